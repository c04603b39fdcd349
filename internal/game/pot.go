package game

// Pot is an award unit: an amount and the seats eligible to win it. With
// all-in players of different depths a hand carries several.
type Pot struct {
	Amount   uint64 `json:"amount"`
	Eligible []int  `json:"eligible"`
}

func sameSeats(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// computeSidePots layers the hand's total commitments into pots: each tier
// takes the smallest outstanding commitment from every contributor, and
// adjacent tiers with identical eligibility merge. Folded seats contribute
// but are never eligible.
func computeSidePots(totalBet map[int]uint64, eligible map[int]bool, seatOrder []int) ([]Pot, error) {
	type rem struct {
		seat     int
		amount   uint64
		eligible bool
	}
	remaining := make([]rem, 0, len(seatOrder))
	for _, seat := range seatOrder {
		amt := totalBet[seat]
		if amt == 0 {
			continue
		}
		remaining = append(remaining, rem{seat: seat, amount: amt, eligible: eligible[seat]})
	}

	tiers := []Pot{}
	for len(remaining) > 0 {
		min := remaining[0].amount
		for _, r := range remaining[1:] {
			if r.amount < min {
				min = r.amount
			}
		}
		amount, err := mulUint64Checked(min, uint64(len(remaining)), "pot amount")
		if err != nil {
			return nil, err
		}
		seats := make([]int, 0, len(remaining))
		for _, r := range remaining {
			if r.eligible {
				seats = append(seats, r.seat)
			}
		}
		tiers = append(tiers, Pot{Amount: amount, Eligible: seats})

		next := remaining[:0]
		for _, r := range remaining {
			r.amount -= min
			if r.amount > 0 {
				next = append(next, r)
			}
		}
		remaining = next
	}

	merged := []Pot{}
	for _, p := range tiers {
		if len(merged) > 0 && sameSeats(merged[len(merged)-1].Eligible, p.Eligible) {
			amount, err := addUint64Checked(merged[len(merged)-1].Amount, p.Amount, "merged pot amount")
			if err != nil {
				return nil, err
			}
			merged[len(merged)-1].Amount = amount
			continue
		}
		merged = append(merged, Pot{Amount: p.Amount, Eligible: append([]int(nil), p.Eligible...)})
	}
	return merged, nil
}
