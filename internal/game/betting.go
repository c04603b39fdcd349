package game

import "fmt"

// toCall is what the seat still owes to match the street price.
func (g *Game) toCall(p *Player) uint64 {
	if g.round == nil || g.round.CurrentBet <= p.CurrentBet {
		return 0
	}
	return g.round.CurrentBet - p.CurrentBet
}

// needsToAct: active, and either short of the street price or yet to act
// since the last full raise. Blind posts do not count as acting, which is
// what gives the big blind its option.
func (g *Game) needsToAct(seat int) bool {
	p := g.players[seat]
	if p == nil || !p.canAct() || g.round == nil {
		return false
	}
	return p.CurrentBet < g.round.CurrentBet || !g.round.acted(seat)
}

// nextToAct scans clockwise from the seat; -1 when the street is settled.
func (g *Game) nextToAct(from int) int {
	for step := 1; step <= g.cfg.MaxPlayers; step++ {
		s := (from + step) % g.cfg.MaxPlayers
		if g.needsToAct(s) {
			return s
		}
	}
	return -1
}

// openPreflop hands the turn to the first seat owing a decision on the
// forced-bet street. Blinds can leave nobody able to act, in which case
// the hand runs straight out.
func (g *Game) openPreflop() error {
	g.actingSeat = g.nextToAct(g.bbSeat)
	if g.actingSeat < 0 {
		return g.endStreet()
	}
	g.stampDeadline()
	return nil
}

// openStreetRound opens betting on a fresh street. With fewer than two
// seats able to act there is nothing left to decide; the street closes
// and the runout cascades.
func (g *Game) openStreetRound() error {
	if g.countCanAct() < 2 {
		g.actingSeat = -1
		g.actionDeadline = 0
		return g.endStreet()
	}
	g.round = newBettingRound(g.cfg.BigBlind)
	g.actingSeat = g.nextToAct(g.dealerSeat)
	g.stampDeadline()
	return nil
}

// ProcessAction applies one betting action for the identified player.
// Validation happens before any mutation, so a rejected action leaves the
// table untouched.
func (g *Game) ProcessAction(key string, action Action, amount uint64) error {
	return g.processAction(key, action, amount, false)
}

func (g *Game) processAction(key string, action Action, amount uint64, auto bool) error {
	if !g.phase.betting() {
		return fmt.Errorf("%w: no betting during %s", ErrWrongPhase, g.phase)
	}
	if g.pendingHoles || g.pendingBoard > 0 {
		return ErrAwaitingCards
	}
	p := g.Player(key)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, key)
	}
	if p.Seat != g.actingSeat {
		return fmt.Errorf("%w: action is on seat %d", ErrNotYourTurn, g.actingSeat)
	}
	if !p.canAct() {
		return fmt.Errorf("%w: seat %d is %s", ErrNotActive, p.Seat, p.State)
	}

	owed := g.toCall(p)
	var committed uint64
	switch action {
	case ActionFold:
		g.applyFold(p)

	case ActionCheck:
		if owed != 0 {
			return fmt.Errorf("%w: check facing %d to call", ErrIllegalAction, owed)
		}
		g.round.markActed(p.Seat)

	case ActionCall:
		if owed == 0 {
			return fmt.Errorf("%w: nothing to call", ErrIllegalAction)
		}
		committed = g.applyCall(p, owed)

	case ActionBet:
		if g.round.CurrentBet != 0 {
			return fmt.Errorf("%w: bet while %d is open", ErrIllegalAction, g.round.CurrentBet)
		}
		if amount < g.cfg.BigBlind {
			return fmt.Errorf("%w: bet %d below big blind %d", ErrBadAmount, amount, g.cfg.BigBlind)
		}
		if amount > p.Stack {
			return fmt.Errorf("%w: bet %d exceeds stack %d", ErrBadAmount, amount, p.Stack)
		}
		var err error
		committed, err = g.applyBetTo(p, amount)
		if err != nil {
			return err
		}

	case ActionRaise:
		if g.round.CurrentBet == 0 {
			return fmt.Errorf("%w: raise with no bet open", ErrIllegalAction)
		}
		if amount < g.round.MinRaise {
			return fmt.Errorf("%w: raise %d below minimum %d", ErrBadAmount, amount, g.round.MinRaise)
		}
		need, err := addUint64Checked(owed, amount, "raise")
		if err != nil {
			return err
		}
		if need > p.Stack {
			return fmt.Errorf("%w: raise needs %d, stack is %d", ErrBadAmount, need, p.Stack)
		}
		target, err := addUint64Checked(g.round.CurrentBet, amount, "raise target")
		if err != nil {
			return err
		}
		committed, err = g.applyBetTo(p, target)
		if err != nil {
			return err
		}

	case ActionAllIn:
		if p.Stack == 0 {
			return fmt.Errorf("%w: empty stack", ErrIllegalAction)
		}
		target, err := addUint64Checked(p.CurrentBet, p.Stack, "all-in")
		if err != nil {
			return err
		}
		if target <= g.round.CurrentBet {
			// Short of the price: a call for less.
			committed = g.applyCall(p, owed)
		} else {
			committed, err = g.applyBetTo(p, target)
			if err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("%w: %s", ErrIllegalAction, action)
	}

	p.Stats.ChipsWagered += committed
	g.appendHistory(p.Seat, action, committed, auto)
	return g.afterAction()
}

func (g *Game) applyFold(p *Player) {
	p.State = StateFolded
	if g.round != nil {
		g.round.markActed(p.Seat)
	}
}

// applyCall pays what is owed, capped at the stack; a short call is an
// implicit all-in.
func (g *Game) applyCall(p *Player, owed uint64) uint64 {
	pay := owed
	if pay > p.Stack {
		pay = p.Stack
	}
	p.Stack -= pay
	p.CurrentBet += pay
	p.TotalBet += pay
	if p.Stack == 0 {
		p.State = StateAllIn
	}
	g.round.markActed(p.Seat)
	return pay
}

// applyBetTo moves the seat's street commitment up to target. A full raise
// (at least MinRaise over the open price) reopens the action for everyone;
// an all-in short of a full raise neither reopens it nor moves MinRaise.
func (g *Game) applyBetTo(p *Player, target uint64) (uint64, error) {
	delta := target - p.CurrentBet
	if delta > p.Stack {
		return 0, fmt.Errorf("%w: need %d, stack is %d", ErrBadAmount, delta, p.Stack)
	}
	raiseBy := target - g.round.CurrentBet
	allIn := delta == p.Stack
	fullRaise := raiseBy >= g.round.MinRaise
	if !fullRaise && !allIn {
		return 0, fmt.Errorf("%w: raise %d below minimum %d", ErrBadAmount, raiseBy, g.round.MinRaise)
	}
	p.Stack -= delta
	p.CurrentBet = target
	p.TotalBet += delta
	if p.Stack == 0 {
		p.State = StateAllIn
	}
	g.round.CurrentBet = target
	if fullRaise {
		g.round.MinRaise = raiseBy
		g.round.reopen(p.Seat)
	} else {
		g.round.markActed(p.Seat)
	}
	return delta, nil
}

// afterAction advances the turn, closes the street, or ends the hand when
// folds leave a single seat.
func (g *Game) afterAction() error {
	if g.countNotFolded() <= 1 {
		return g.finishByFolds()
	}
	next := g.nextToAct(g.actingSeat)
	if next >= 0 {
		g.actingSeat = next
		g.stampDeadline()
		return nil
	}
	return g.endStreet()
}

// endStreet refunds any uncalled excess, sweeps the street's bets into the
// pot layers, and moves the hand to whatever comes next.
func (g *Game) endStreet() error {
	g.actingSeat = -1
	g.actionDeadline = 0
	g.returnUncalledExcess()
	if err := g.sweepStreet(); err != nil {
		return err
	}

	next := g.variant.NextPhase(g.phase)
	switch next {
	case PhaseShowdown:
		return g.enterShowdown()
	case PhaseDraw:
		g.beginDraw()
		return nil
	default:
		g.phase = next
		n := g.variant.BoardCards(next)
		if g.external {
			g.pendingBoard = n
			return nil
		}
		g.deck.Burn()
		for i := 0; i < n; i++ {
			if c, ok := g.deck.Deal(); ok {
				g.community = append(g.community, c)
			}
		}
		return g.openStreetRound()
	}
}

// returnUncalledExcess refunds the unmatched top of the street: whatever
// the highest commitment exceeds the second-highest by goes back to its
// owner, who may come off all-in.
func (g *Game) returnUncalledExcess() {
	if g.round == nil {
		return
	}
	var top, second uint64
	topSeat := -1
	for _, s := range g.seatOrder() {
		b := g.players[s].CurrentBet
		if b > top {
			second = top
			top = b
			topSeat = s
		} else if b > second {
			second = b
		}
	}
	if topSeat < 0 || top == second {
		return
	}
	excess := top - second
	p := g.players[topSeat]
	p.Stack += excess
	p.CurrentBet -= excess
	p.TotalBet -= excess
	p.Stats.ChipsWagered -= excess
	if p.State == StateAllIn && p.Stack > 0 {
		p.State = StateActive
	}
}

// sweepStreet folds the street's bets into the pot layers and clears the
// per-street counters. Pots are rebuilt from whole-hand commitments, so
// the sweep is idempotent.
func (g *Game) sweepStreet() error {
	totals := map[int]uint64{}
	eligible := map[int]bool{}
	for _, s := range g.seatOrder() {
		p := g.players[s]
		if p.TotalBet > 0 {
			totals[s] = p.TotalBet
		}
		if p.InHand() {
			eligible[s] = true
		}
		p.CurrentBet = 0
	}
	pots, err := computeSidePots(totals, eligible, g.seatOrder())
	if err != nil {
		return err
	}
	g.pots = pots
	g.round = nil
	return nil
}

// finishByFolds ends the hand with one seat left holding cards; it takes
// everything without a showdown.
func (g *Game) finishByFolds() error {
	g.actingSeat = -1
	g.actionDeadline = 0
	g.returnUncalledExcess()
	if err := g.sweepStreet(); err != nil {
		return err
	}
	winner := -1
	for _, s := range g.seatOrder() {
		if g.players[s].InHand() {
			winner = s
			break
		}
	}
	var won uint64
	for _, pot := range g.pots {
		won += pot.Amount
	}
	w := g.players[winner]
	w.Stack += won
	if won > 0 {
		w.Stats.HandsWon++
	}
	g.finishHand(&HandResult{
		HandNumber: g.handNumber,
		Reason:     ResultFolds,
		Wins:       []SeatWin{{Seat: winner, Amount: won}},
	})
	return nil
}
