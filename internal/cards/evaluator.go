package cards

import "sort"

// HandRank is the hand classification, weakest first.
type HandRank uint8

const (
	HighCard HandRank = iota
	OnePair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
	RoyalFlush
)

func (r HandRank) String() string {
	switch r {
	case HighCard:
		return "high card"
	case OnePair:
		return "pair"
	case TwoPair:
		return "two pair"
	case ThreeOfAKind:
		return "three of a kind"
	case Straight:
		return "straight"
	case Flush:
		return "flush"
	case FullHouse:
		return "full house"
	case FourOfAKind:
		return "four of a kind"
	case StraightFlush:
		return "straight flush"
	case RoyalFlush:
		return "royal flush"
	default:
		return "unknown"
	}
}

// Value packs a 5-card hand into a single comparable integer:
// classification in bits 20+, tie-break ranks in descending nibbles below.
// Comparing two Values totally orders any two 5-card hands under standard
// poker rules. Anything other than 5 valid cards evaluates to 0 (high card,
// no kickers).
func Value(hand []Card) uint32 {
	if len(hand) != 5 {
		return 0
	}
	for _, c := range hand {
		if !c.Valid() {
			return 0
		}
	}

	ranks := make([]uint8, 0, 5)
	for _, c := range hand {
		ranks = append(ranks, c.Rank())
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] > ranks[j] })

	flush := true
	for _, c := range hand[1:] {
		if c.Suit() != hand[0].Suit() {
			flush = false
			break
		}
	}

	counts := map[uint8]uint8{}
	for _, r := range ranks {
		counts[r]++
	}
	unique := make([]uint8, 0, len(counts))
	for r := range counts {
		unique = append(unique, r)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] > unique[j] })

	straightHigh, straight := straightHighRank(unique)

	type group struct {
		rank  uint8
		count uint8
	}
	groups := make([]group, 0, len(counts))
	for r, n := range counts {
		groups = append(groups, group{rank: r, count: n})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		return groups[i].rank > groups[j].rank
	})

	switch {
	case straight && flush:
		if straightHigh == 14 {
			return pack(RoyalFlush, uint32(straightHigh)<<16)
		}
		return pack(StraightFlush, uint32(straightHigh)<<16)

	case groups[0].count == 4:
		return pack(FourOfAKind, uint32(groups[0].rank)<<16|uint32(groups[1].rank)<<12)

	case groups[0].count == 3 && groups[1].count == 2:
		return pack(FullHouse, uint32(groups[0].rank)<<16|uint32(groups[1].rank)<<12)

	case flush:
		return pack(Flush, packRanksDesc(ranks))

	case straight:
		return pack(Straight, uint32(straightHigh)<<16)

	case groups[0].count == 3:
		tie := uint32(groups[0].rank) << 16
		tie |= uint32(groups[1].rank) << 12
		tie |= uint32(groups[2].rank) << 8
		return pack(ThreeOfAKind, tie)

	case groups[0].count == 2 && groups[1].count == 2:
		tie := uint32(groups[0].rank) << 16
		tie |= uint32(groups[1].rank) << 12
		tie |= uint32(groups[2].rank) << 8
		return pack(TwoPair, tie)

	case groups[0].count == 2:
		tie := uint32(groups[0].rank) << 16
		tie |= uint32(groups[1].rank) << 12
		tie |= uint32(groups[2].rank) << 8
		tie |= uint32(groups[3].rank) << 4
		return pack(OnePair, tie)

	default:
		return pack(HighCard, packRanksDesc(ranks))
	}
}

// Classify returns the classification alone.
func Classify(hand []Card) HandRank {
	return HandRank(Value(hand) >> 20)
}

func pack(r HandRank, tie uint32) uint32 {
	return uint32(r)<<20 | tie
}

// packRanksDesc places five descending ranks at nibble shifts 16,12,8,4,0.
func packRanksDesc(ranksDesc []uint8) uint32 {
	var v uint32
	shift := uint(16)
	for _, r := range ranksDesc {
		v |= uint32(r) << shift
		if shift == 0 {
			break
		}
		shift -= 4
	}
	return v
}

// straightHighRank detects a straight over the distinct ranks (descending).
// The wheel A-2-3-4-5 counts as a 5-high straight.
func straightHighRank(uniqueDesc []uint8) (uint8, bool) {
	if len(uniqueDesc) != 5 {
		return 0, false
	}
	if uniqueDesc[0] == 14 && uniqueDesc[1] == 5 && uniqueDesc[2] == 4 && uniqueDesc[3] == 3 && uniqueDesc[4] == 2 {
		return 5, true
	}
	for i := 1; i < len(uniqueDesc); i++ {
		if uniqueDesc[i-1]-1 != uniqueDesc[i] {
			return 0, false
		}
	}
	return uniqueDesc[0], true
}

// FindBestHand enumerates every 5-card subset of hole+community (C(n,5);
// 21 subsets for the 7-card case) and returns the best one with its value.
func FindBestHand(hole, community []Card) ([]Card, uint32) {
	all := make([]Card, 0, len(hole)+len(community))
	all = append(all, hole...)
	all = append(all, community...)
	if len(all) < 5 {
		return nil, 0
	}
	if len(all) == 5 {
		picked := append([]Card(nil), all...)
		return picked, Value(picked)
	}

	var best []Card
	var bestValue uint32
	subset := make([]Card, 5)
	forEachChoose5(len(all), func(idx [5]int) {
		for i, j := range idx {
			subset[i] = all[j]
		}
		if v := Value(subset); best == nil || v > bestValue {
			best = append(best[:0], subset...)
			bestValue = v
		}
	})
	return best, bestValue
}

// forEachChoose5 walks all 5-element index combinations of 0..n-1 in
// lexicographic order.
func forEachChoose5(n int, fn func(idx [5]int)) {
	var idx [5]int
	for a := 0; a < n-4; a++ {
		idx[0] = a
		for b := a + 1; b < n-3; b++ {
			idx[1] = b
			for c := b + 1; c < n-2; c++ {
				idx[2] = c
				for d := c + 1; d < n-1; d++ {
					idx[3] = d
					for e := d + 1; e < n; e++ {
						idx[4] = e
						fn(idx)
					}
				}
			}
		}
	}
}
