package game

// stampDeadline restarts the action clock for the current turn.
func (g *Game) stampDeadline() {
	if g.cfg.ActionTimeoutSecs == 0 || g.actingSeat < 0 {
		g.actionDeadline = 0
		return
	}
	deadline, err := addInt64AndU64Checked(g.clock(), g.cfg.ActionTimeoutSecs, "action deadline")
	if err != nil {
		g.actionDeadline = 0
		return
	}
	g.actionDeadline = deadline
}

// Tick applies the timeout default once the acting seat's deadline has
// passed: check when checking is free, fold otherwise, stand pat in the
// draw. Reports whether an action was applied; callers tick in a loop to
// drain consecutive expiries.
func (g *Game) Tick(now int64) (bool, error) {
	if g.actionDeadline == 0 || now < g.actionDeadline || g.actingSeat < 0 {
		return false, nil
	}
	p := g.players[g.actingSeat]
	if p == nil {
		return false, nil
	}
	switch {
	case g.phase == PhaseDraw:
		if err := g.processDiscard(p.Key, nil, true); err != nil {
			return false, err
		}
	case g.phase.betting():
		action := ActionFold
		if g.toCall(p) == 0 {
			action = ActionCheck
		}
		if err := g.processAction(p.Key, action, 0, true); err != nil {
			return false, err
		}
	default:
		return false, nil
	}
	return true, nil
}
