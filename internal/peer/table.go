package peer

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/thoas/go-funk"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/game"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/wire"
)

// dealableFrom are the boundaries a fresh shuffle may begin from.
var dealableFrom = []game.Phase{game.PhaseEscrow, game.PhaseShowdown}

// SendReady confirms this node's stake for a table it was accepted into.
// The table deals once every member has confirmed.
func (e *Engine) SendReady(gameID string) error {
	return e.do(func() error {
		s, err := e.session(gameID)
		if err != nil {
			return err
		}
		if s.funded[e.pub] {
			return nil
		}
		return e.queue(wire.TypeReady, gameID, wire.ReadyPayload{Scope: wire.ReadyScopeTable})
	})
}

// SendAction submits a betting action for the current hand. Validation is
// advisory here; the action binds when it applies through the handler path.
func (e *Engine) SendAction(gameID, action string, amount uint64) error {
	return e.do(func() error {
		s, err := e.session(gameID)
		if err != nil {
			return err
		}
		if _, ok := game.ParseAction(action); !ok {
			return fmt.Errorf("%w: %q", game.ErrIllegalAction, action)
		}
		pl := s.table.Player(e.pub)
		if pl == nil || pl.Seat != s.table.ActingSeat() {
			return game.ErrNotYourTurn
		}
		return e.queue(wire.TypeAction, gameID, wire.ActionPayload{
			Hand:   s.table.HandNumber(),
			Action: action,
			Amount: amount,
		})
	})
}

// SendDiscard submits this node's draw exchange. An empty list stands pat.
func (e *Engine) SendDiscard(gameID string, discards []int) error {
	return e.do(func() error {
		s, err := e.session(gameID)
		if err != nil {
			return err
		}
		if s.table.Phase() != game.PhaseDraw {
			return fmt.Errorf("%w: discard during %s", game.ErrWrongPhase, s.table.Phase())
		}
		pl := s.table.Player(e.pub)
		if pl == nil || pl.Seat != s.table.ActingSeat() {
			return game.ErrNotYourTurn
		}
		return e.queue(wire.TypeAction, gameID, wire.ActionPayload{
			Hand:     s.table.HandNumber(),
			Action:   "discard",
			Discards: append([]int(nil), discards...),
		})
	})
}

// NextHand deals the next hand. Only the acting host may call it, and only
// between hands.
func (e *Engine) NextHand(gameID string) error {
	return e.do(func() error {
		s, err := e.session(gameID)
		if err != nil {
			return err
		}
		if s.actingHost() != e.pub {
			return ErrNotHost
		}
		if s.table.HandLive() || s.table.Phase() != game.PhaseShowdown {
			return fmt.Errorf("%w: next hand during %s", game.ErrWrongPhase, s.table.Phase())
		}
		return e.queue(wire.TypeStart, gameID, wire.StartPayload{Hand: s.table.HandNumber() + 1})
	})
}

// Settle freezes the table and opens signature collection over the final
// stacks. Only the acting host initiates; everyone, observers included,
// countersigns the same transaction.
func (e *Engine) Settle(gameID string) error {
	return e.do(func() error {
		s, err := e.session(gameID)
		if err != nil {
			return err
		}
		if s.actingHost() != e.pub {
			return ErrNotHost
		}
		if s.table.HandLive() || s.table.Phase() != game.PhaseShowdown {
			return fmt.Errorf("%w: settle during %s", game.ErrWrongPhase, s.table.Phase())
		}
		outcome, err := s.table.BeginSettlement()
		if err != nil {
			return err
		}
		if err := s.esc.CreateSettlementTransaction(*outcome); err != nil {
			return err
		}
		signBytes, err := s.esc.SettlementSignBytes()
		if err != nil {
			return err
		}
		sum := sha256.Sum256(s.esc.SettlementTx)
		s.settleSigned = true
		return e.queue(wire.TypeSettle, gameID, wire.SettlePayload{
			Timestamp:   outcome.Timestamp,
			OutcomeHash: sum[:],
			Sig:         ed25519.Sign(e.key, signBytes),
		})
	})
}

// Leave announces this node's departure. Mid-hand the seat folds; the stack
// stays in the settlement distribution, and the node keeps countersigning.
func (e *Engine) Leave(gameID, reason string) error {
	return e.do(func() error {
		s, err := e.session(gameID)
		if err != nil {
			return err
		}
		if err := s.requireMember(e.pub); err != nil {
			return err
		}
		return e.queue(wire.TypeLeave, gameID, wire.LeavePayload{Reason: reason})
	})
}

// processStart deals a hand on the acting host's say-so. Everyone runs the
// same transition from the same boundary state, so the tables agree on
// blinds and positions without any card having moved yet.
func (e *Engine) processStart(env *wire.Envelope) error {
	s, err := e.session(env.GameID)
	if err != nil {
		return err
	}
	if err := s.requireMember(env.Sender); err != nil {
		return err
	}
	if env.Sender != s.actingHost() {
		return fmt.Errorf("%w: start from %s", ErrNotHost, shortID(env.Sender))
	}
	var p wire.StartPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	if p.Hand != s.table.HandNumber()+1 {
		return fmt.Errorf("%w: start for hand %d at hand %d", ErrWrongHand, p.Hand, s.table.HandNumber())
	}
	if funk.Contains(dealableFrom, s.table.Phase()) {
		if err := s.table.BeginShuffle(); err != nil {
			return err
		}
	}
	if err := s.table.StartNewHand(); err != nil {
		return err
	}
	if err := e.beginCeremony(s); err != nil {
		return err
	}
	return e.postApply(s)
}

// processReady handles both readiness scopes: table readiness doubles as
// the stake deposit, hole readiness closes the deal once every dealt seat
// has its cards.
func (e *Engine) processReady(env *wire.Envelope) error {
	s, err := e.session(env.GameID)
	if err != nil {
		return err
	}
	if err := s.requireMember(env.Sender); err != nil {
		return err
	}
	var p wire.ReadyPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	switch p.Scope {
	case wire.ReadyScopeTable:
		if s.funded[env.Sender] {
			return nil
		}
		m := s.member(env.Sender)
		if err := s.esc.Fund(m.Key, m.BuyIn); err != nil && !errors.Is(err, escrow.ErrAlreadyFunded) {
			return err
		}
		s.funded[env.Sender] = true
		markReady(s.readyTable, int64(s.keys[env.Sender]))
		if !s.tableReadyDone && allReady(s.readyTable) {
			s.tableReadyDone = true
			if err := s.table.BeginShuffle(); err != nil {
				return err
			}
			e.logger.Info("table funded", "game", shortID(s.id), "pot", s.esc.Pot())
			if s.actingHost() == e.pub {
				return e.queue(wire.TypeStart, s.id, wire.StartPayload{Hand: 1})
			}
		}
		return nil

	case wire.ReadyScopeHoles:
		if s.observer(e.pub) {
			return nil
		}
		c := s.ceremonyFor(p.Hand)
		if c == nil {
			return e.stashEarly(s, env, p.Hand)
		}
		pl := s.table.Player(env.Sender)
		if pl == nil {
			return nil
		}
		markReady(c.ready, int64(pl.Seat))
		if !c.holesConfirmed && allReady(c.ready) {
			c.holesConfirmed = true
			if err := s.table.ConfirmHolesDealt(); err != nil {
				return err
			}
			if err := e.drainHeld(s, c); err != nil {
				return err
			}
			return e.postApply(s)
		}
		return nil
	}
	return fmt.Errorf("peer: unknown ready scope %q", p.Scope)
}

// processAction applies a betting or draw turn to the local table copy.
func (e *Engine) processAction(env *wire.Envelope) error {
	s, err := e.session(env.GameID)
	if err != nil {
		return err
	}
	if err := s.requireMember(env.Sender); err != nil {
		return err
	}
	var p wire.ActionPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	if p.Hand != s.table.HandNumber() {
		return fmt.Errorf("%w: action for hand %d at hand %d", ErrWrongHand, p.Hand, s.table.HandNumber())
	}
	// An action can outrun the cards it presumes when transports deliver
	// senders in different orders; it waits for the relay instead of dying.
	if c := s.hand; c != nil && (s.table.PendingHoles() || s.table.PendingBoard() > 0 || s.table.PendingDraw()) {
		return c.holdAction(env)
	}
	if p.Action == "discard" {
		if err := s.table.ProcessDiscard(env.Sender, p.Discards); err != nil {
			return err
		}
		if len(p.Discards) > 0 {
			if err := e.planDraw(s, env.Sender, p.Discards); err != nil {
				return err
			}
		}
		return e.postApply(s)
	}
	act, ok := game.ParseAction(p.Action)
	if !ok {
		return fmt.Errorf("%w: %q", game.ErrIllegalAction, p.Action)
	}
	if err := s.table.ProcessAction(env.Sender, act, p.Amount); err != nil {
		return err
	}
	return e.postApply(s)
}

// planDraw allocates deck positions for a seat's replacements and opens the
// reveal relay. Opponents confirm the count right away; the owner's table
// advances when the decrypted cards land through the relay.
func (e *Engine) planDraw(s *session, owner string, discards []int) error {
	pl := s.table.Player(owner)
	if pl == nil {
		return fmt.Errorf("%w: %s", game.ErrUnknownPlayer, shortID(owner))
	}
	c := s.hand
	if c == nil {
		return fmt.Errorf("peer: draw outside a ceremony")
	}
	newPos, err := c.plan.Take(len(discards))
	if err != nil {
		return err
	}
	old := c.seatPositions[pl.Seat]
	drop := map[int]bool{}
	for _, idx := range discards {
		drop[idx] = true
	}
	kept := make([]int, 0, len(old))
	for i, pos := range old {
		if !drop[i] {
			kept = append(kept, pos)
		}
	}
	c.seatPositions[pl.Seat] = append(kept, newPos...)
	c.relays = append(c.relays, &relay{
		kind:      relayDraw,
		seat:      pl.Seat,
		owner:     owner,
		positions: newPos,
		providers: providersExcept(len(c.order), c.pos[owner]),
		backlog:   map[int][]wire.PartialReveal{},
	})
	if owner != e.pub {
		if err := s.table.ConfirmDraw(pl.Seat, nil); err != nil {
			return err
		}
	}
	return e.pumpHand(s, c)
}

// processLeave folds the leaver out of the live hand and flags the seat for
// retirement at the boundary.
func (e *Engine) processLeave(env *wire.Envelope) error {
	s, err := e.session(env.GameID)
	if err != nil {
		return err
	}
	if err := s.requireMember(env.Sender); err != nil {
		return err
	}
	if s.table.Player(env.Sender) == nil {
		return nil
	}
	if err := s.table.RemovePlayer(env.Sender); err != nil {
		return err
	}
	e.logger.Info("player left", "game", shortID(s.id), "player", shortID(env.Sender))
	return e.postApply(s)
}

// processStateSync adopts a peer's boundary snapshot when it is ahead of
// us, or answers with ours when the peer is behind. Snapshots are only
// adopted between hands; mid-hand card knowledge cannot be transferred.
func (e *Engine) processStateSync(env *wire.Envelope) error {
	s, err := e.session(env.GameID)
	if err != nil {
		return err
	}
	if err := s.requireMember(env.Sender); err != nil {
		return err
	}
	if env.Sender == e.pub {
		return nil
	}
	var p wire.StateSyncPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	sum := sha256.Sum256(p.Snapshot)
	if !bytes.Equal(sum[:], p.Hash) {
		return fmt.Errorf("peer: state sync hash does not cover snapshot")
	}

	localHand, localPhase := s.table.HandNumber(), s.table.Phase()
	inHand, inPhase := p.HandNumber, game.Phase(p.Phase)
	localHash, err := s.table.Hash()
	if err != nil {
		return err
	}
	newer := inHand > localHand || (inHand == localHand && inPhase > localPhase)
	equal := inHand == localHand && inPhase == localPhase
	sameBytes := bytes.Equal(localHash[:], p.Hash)

	switch {
	case newer, equal && !sameBytes && env.Sender == s.actingHost():
		return e.adoptSnapshot(s, env.Sender, p)
	case equal:
		if !sameBytes {
			e.logger.Error("table divergence detected",
				"game", shortID(s.id), "hand", localHand, "peer", shortID(env.Sender))
		}
		return nil
	default:
		// The sender is behind; offer our boundary if we sit at one.
		if !s.table.HandLive() {
			e.replySync(env.Sender, s)
		}
		return nil
	}
}

// adoptSnapshot replaces the local table with a verified boundary snapshot.
// A probe restore proves the snapshot parses, matches its advertised
// position, and sits between hands before the live table is touched.
func (e *Engine) adoptSnapshot(s *session, sender string, p wire.StateSyncPayload) error {
	probe, err := game.NewGame(s.cfg)
	if err != nil {
		return err
	}
	if err := probe.Restore(p.Snapshot); err != nil {
		return err
	}
	if probe.HandLive() || probe.HandNumber() != p.HandNumber || probe.Phase() != game.Phase(p.Phase) {
		return fmt.Errorf("peer: state sync snapshot is not a hand boundary")
	}
	if err := s.table.Restore(p.Snapshot); err != nil {
		return err
	}
	s.hand = nil
	s.tb.Cancel()
	s.deadline = 0
	if p.HandNumber > s.lastSynced {
		s.lastSynced = p.HandNumber
	}
	e.logger.Info("table adopted from peer",
		"game", shortID(s.id), "hand", p.HandNumber, "peer", shortID(sender))
	return e.postApply(s)
}

func (e *Engine) replySync(peerKey string, s *session) {
	snap, err := s.table.PublicSnapshot()
	if err != nil {
		return
	}
	sum := sha256.Sum256(snap)
	e.sendDirect(peerKey, wire.TypeStateSync, s.id, wire.StateSyncPayload{
		HandNumber: s.table.HandNumber(),
		Phase:      uint8(s.table.Phase()),
		Hash:       sum[:],
		Snapshot:   snap,
	})
}

func (e *Engine) processSettle(env *wire.Envelope) error {
	s, err := e.session(env.GameID)
	if err != nil {
		return err
	}
	if err := s.requireMember(env.Sender); err != nil {
		return err
	}
	var p wire.SettlePayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	return e.applySettle(s, env.Sender, p)
}

// applySettle verifies and records one member's settlement signature. The
// first settle we see pins the initiator's timestamp into our own outcome,
// which is what makes every member's transaction byte-identical. Settles
// that beat our own hand end wait in the backlog.
func (e *Engine) applySettle(s *session, sender string, p wire.SettlePayload) error {
	switch s.esc.Status {
	case escrow.StatusSettled:
		return nil
	case escrow.StatusSettling:
	case escrow.StatusFunded:
		if s.table.Phase() != game.PhaseShowdown || s.table.HandLive() {
			s.settleBacklog[sender] = p
			return nil
		}
		outcome, err := s.table.BeginSettlement()
		if err != nil {
			return err
		}
		outcome.Timestamp = p.Timestamp
		if err := s.esc.CreateSettlementTransaction(*outcome); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: settle while %s", escrow.ErrBadStatus, s.esc.Status)
	}

	sum := sha256.Sum256(s.esc.SettlementTx)
	if !bytes.Equal(sum[:], p.OutcomeHash) {
		return fmt.Errorf("peer: settlement outcome from %s does not match ours", shortID(sender))
	}
	pub, err := hex.DecodeString(sender)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("peer: malformed member key %s", shortID(sender))
	}
	signBytes := escrow.SettleSignBytes(s.id, s.esc.SettlementTx)
	if !ed25519.Verify(ed25519.PublicKey(pub), signBytes, p.Sig) {
		return fmt.Errorf("peer: bad settlement signature from %s", shortID(sender))
	}
	if err := s.esc.AddSettlementSignature(sender, p.Sig); err != nil && !errors.Is(err, escrow.ErrAlreadySigned) {
		return err
	}
	e.logger.Info("settlement signature", "game", shortID(s.id), "member", shortID(sender))

	if !s.settleSigned {
		s.settleSigned = true
		err := e.queue(wire.TypeSettle, s.id, wire.SettlePayload{
			Timestamp:   p.Timestamp,
			OutcomeHash: p.OutcomeHash,
			Sig:         ed25519.Sign(e.key, signBytes),
		})
		if err != nil {
			return err
		}
	}
	if s.esc.IsSettlementFullySigned() && len(s.signedTx) == 0 {
		tx, err := s.esc.GetSignedSettlementTransaction()
		if err != nil {
			return err
		}
		s.signedTx = tx
		if err := s.table.ConfirmSettlement(); err != nil {
			return err
		}
		if e.recorder != nil {
			if err := e.recorder.RecordSettlement(s.id, s.table.Outcome(), tx); err != nil {
				e.logger.Error("settlement archive failed", "game", shortID(s.id), "err", err)
			}
		}
		e.logger.Info("settlement complete", "game", shortID(s.id), "pot", s.esc.Pot())
	}
	return nil
}

// postApply runs the table-driven consequences of whatever just applied:
// opening board and showdown relays, closing the books on a finished hand,
// and rearming the turn timer.
func (e *Engine) postApply(s *session) error {
	if c := s.hand; c != nil && s.table.HandLive() {
		if n := s.table.PendingBoard(); n > 0 && !c.planned[s.table.Phase()] {
			c.planned[s.table.Phase()] = true
			if _, err := c.plan.Burn(); err != nil {
				return err
			}
			pos, err := c.plan.Take(n)
			if err != nil {
				return err
			}
			c.relays = append(c.relays, &relay{
				kind:      relayBoard,
				seat:      -1,
				positions: pos,
				providers: providersAll(len(c.order)),
				backlog:   map[int][]wire.PartialReveal{},
			})
			if err := e.pumpHand(s, c); err != nil {
				return err
			}
		}
		if s.table.Phase() == game.PhaseShowdown && !c.showBuilt {
			c.showBuilt = true
			for _, seat := range c.dealSeats {
				pl := s.table.PlayerBySeat(seat)
				if pl == nil || !pl.InHand() {
					continue
				}
				c.relays = append(c.relays, &relay{
					kind:      relayShow,
					seat:      seat,
					owner:     pl.Key,
					positions: append([]int(nil), c.seatPositions[seat]...),
					providers: []int{c.pos[pl.Key]},
					backlog:   map[int][]wire.PartialReveal{},
				})
			}
			if err := e.pumpHand(s, c); err != nil {
				return err
			}
		}
	}

	if res := s.table.Result(); res != nil && !s.table.HandLive() {
		if res.HandNumber > s.lastRecorded {
			s.lastRecorded = res.HandNumber
			e.record(s, res)
		}
		if res.HandNumber > s.lastSynced {
			s.lastSynced = res.HandNumber
			if err := e.queueStateSync(s); err != nil {
				return err
			}
		}
		s.hand = nil
		if len(s.settleBacklog) > 0 && s.table.Phase() == game.PhaseShowdown {
			for _, m := range s.members {
				sp, held := s.settleBacklog[m.Key]
				if !held {
					continue
				}
				delete(s.settleBacklog, m.Key)
				if err := e.applySettle(s, m.Key, sp); err != nil {
					e.logger.Debug("held settle rejected", "game", shortID(s.id), "member", shortID(m.Key), "err", err)
				}
			}
		}
	}

	e.armDeadline(s)
	return nil
}

func (e *Engine) record(s *session, res *game.HandResult) {
	if e.recorder == nil {
		return
	}
	var hist []game.ActionRecord
	for _, rec := range s.table.History() {
		if rec.HandNumber == res.HandNumber {
			hist = append(hist, rec)
		}
	}
	if err := e.recorder.RecordHand(s.id, res, hist); err != nil {
		e.logger.Error("hand archive failed", "game", shortID(s.id), "hand", res.HandNumber, "err", err)
	}
}

// queueStateSync broadcasts our boundary snapshot so stalled peers can
// catch up.
func (e *Engine) queueStateSync(s *session) error {
	snap, err := s.table.PublicSnapshot()
	if err != nil {
		return err
	}
	sum := sha256.Sum256(snap)
	return e.queue(wire.TypeStateSync, s.id, wire.StateSyncPayload{
		HandNumber: s.table.HandNumber(),
		Phase:      uint8(s.table.Phase()),
		Hash:       sum[:],
		Snapshot:   snap,
	})
}

// armDeadline mirrors the table's action deadline into a timer task. The
// extra second of grace keeps a prompt action and the local timeout from
// racing more often than clock skew already forces.
func (e *Engine) armDeadline(s *session) {
	d := s.table.ActionDeadline()
	if d == 0 {
		if s.deadline != 0 {
			s.tb.Cancel()
			s.deadline = 0
		}
		return
	}
	if d == s.deadline {
		return
	}
	s.deadline = d
	s.tb.Cancel()
	wait := time.Duration(d-e.clock().Unix())*time.Second + time.Second
	if wait < time.Second {
		wait = time.Second
	}
	gameID := s.id
	_ = s.tb.NewTask(wait, func(isCancelled bool) {
		if isCancelled {
			return
		}
		e.expireTurn(gameID, d)
	})
}

// expireTurn applies the table's timeout defaults once a deadline passes
// unanswered. Every peer runs the same defaults off the same deadline, so
// tables converge without any timeout message on the wire.
func (e *Engine) expireTurn(gameID string, deadline int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	s := e.sessions[gameID]
	if s == nil || s.deadline != deadline {
		return
	}
	s.deadline = 0
	now := e.clock().Unix()
	for {
		applied, err := s.table.Tick(now)
		if err != nil {
			e.logger.Error("timeout default failed", "game", shortID(gameID), "err", err)
			break
		}
		if !applied {
			break
		}
		e.logger.Info("turn timed out", "game", shortID(gameID), "hand", s.table.HandNumber())
	}
	if err := e.postApply(s); err != nil {
		e.logger.Error("timeout follow-up failed", "game", shortID(gameID), "err", err)
	}
	e.flushLocked()
}
