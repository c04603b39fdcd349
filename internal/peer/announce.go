package peer

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/game"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/sra"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/wire"
)

// announceTTLSecs is how long an announcement stays joinable. Sessions that
// reach accept outlive it; the rest are swept.
const announceTTLSecs int64 = 3600

// announcement is one advertised table. Only the host carries a staging
// table; it assigns seats as joins arrive and becomes the accept roster.
type announcement struct {
	payload wire.AnnouncePayload
	host    string
	expires int64
	staging *game.Game
}

// Host advertises a new table and seats this node at it. Returns the
// derived game id; seating stays open until Accept.
func (e *Engine) Host(cfg game.Config, buyIn uint64) (string, error) {
	var gameID string
	err := e.do(func() error {
		staging, err := game.NewGame(cfg)
		if err != nil {
			return err
		}
		if _, err := staging.AddPlayer(e.pub, e.opts.Name, buyIn); err != nil {
			return err
		}
		p := wire.AnnouncePayload{
			Nonce:     uuid.NewString(),
			HostName:  e.opts.Name,
			Config:    cfg,
			CreatedAt: e.clock().Unix(),
		}
		gameID, err = p.DeriveGameID()
		if err != nil {
			return err
		}
		e.announces[gameID] = &announcement{
			payload: p,
			host:    e.pub,
			expires: e.clock().Unix() + announceTTLSecs,
			staging: staging,
		}
		e.logger.Info("hosting table", "game", shortID(gameID), "variant", cfg.Variant)
		return e.queue(wire.TypeAnnounce, gameID, p)
	})
	if err != nil {
		return "", err
	}
	return gameID, nil
}

// Join asks the host of an announced table for a seat.
func (e *Engine) Join(gameID string, buyIn uint64) error {
	return e.do(func() error {
		ann := e.announces[gameID]
		if ann == nil {
			return fmt.Errorf("%w: %s", ErrNoAnnouncement, shortID(gameID))
		}
		if e.sessions[gameID] != nil {
			return ErrSeatingClosed
		}
		return e.queue(wire.TypeJoin, gameID, wire.JoinPayload{
			Name:  e.opts.Name,
			BuyIn: buyIn,
		})
	})
}

// Accept closes seating on a hosted table: the final roster and the shared
// cipher session go out to every member, and all of them, this node
// included, build the same table from it.
func (e *Engine) Accept(gameID string) error {
	return e.do(func() error {
		ann := e.announces[gameID]
		if ann == nil {
			return fmt.Errorf("%w: %s", ErrNoAnnouncement, shortID(gameID))
		}
		if ann.host != e.pub || ann.staging == nil {
			return ErrNotHost
		}
		if e.sessions[gameID] != nil {
			return ErrSeatingClosed
		}
		players := ann.staging.Players()
		if len(players) < 2 {
			return fmt.Errorf("peer: need at least 2 players to accept, have %d", len(players))
		}
		members := make([]wire.MemberInfo, 0, len(players))
		for _, p := range players {
			members = append(members, wire.MemberInfo{
				Key:   p.Key,
				Name:  p.Name,
				Seat:  p.Seat,
				BuyIn: p.Stack,
			})
		}
		sess, err := sra.NewSession(rand.Reader, e.opts.ModulusBits)
		if err != nil {
			return err
		}
		e.logger.Info("closing seating", "game", shortID(gameID), "members", len(members))
		return e.queue(wire.TypeAccept, gameID, wire.NewAcceptPayload(ann.payload.Config, members, sess))
	})
}

// Announcements lists the open tables this node knows about, keyed by
// game id.
func (e *Engine) Announcements() map[string]wire.AnnouncePayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]wire.AnnouncePayload, len(e.announces))
	for id, ann := range e.announces {
		if e.sessions[id] == nil {
			out[id] = ann.payload
		}
	}
	return out
}

func (e *Engine) processAnnounce(env *wire.Envelope) error {
	var p wire.AnnouncePayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	id, err := p.DeriveGameID()
	if err != nil {
		return err
	}
	if id != env.GameID {
		return fmt.Errorf("peer: announce id %s does not derive from its payload", shortID(env.GameID))
	}
	if err := p.Config.Validate(); err != nil {
		return err
	}
	if e.sessions[id] != nil || e.announces[id] != nil {
		return nil
	}
	e.announces[id] = &announcement{
		payload: p,
		host:    env.Sender,
		expires: e.clock().Unix() + announceTTLSecs,
	}
	e.logger.Info("table announced",
		"game", shortID(id), "host", p.HostName, "variant", p.Config.Variant,
		"blinds", fmt.Sprintf("%d/%d", p.Config.SmallBlind, p.Config.BigBlind))
	return nil
}

// processJoin seats the joiner on the host's staging table. Non-hosts learn
// the roster from accept and ignore joins.
func (e *Engine) processJoin(env *wire.Envelope) error {
	ann := e.announces[env.GameID]
	if ann == nil || ann.host != e.pub || ann.staging == nil {
		return nil
	}
	if e.sessions[env.GameID] != nil {
		return ErrSeatingClosed
	}
	var p wire.JoinPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	name := p.Name
	if name == "" {
		name = shortID(env.Sender)
	}
	seat, err := ann.staging.AddPlayer(env.Sender, name, p.BuyIn)
	if err != nil {
		return err
	}
	e.logger.Info("player joined", "game", shortID(env.GameID), "name", name, "seat", seat)
	return nil
}

// processAccept builds the shared session: every accepted member, the host
// included, reconstructs the same table, escrow mirror, and readiness group
// from the roster.
func (e *Engine) processAccept(env *wire.Envelope) error {
	ann := e.announces[env.GameID]
	if ann == nil {
		return fmt.Errorf("%w: %s", ErrNoAnnouncement, shortID(env.GameID))
	}
	if env.Sender != ann.host {
		return fmt.Errorf("%w: accept from %s", ErrNotHost, shortID(env.Sender))
	}
	if e.sessions[env.GameID] != nil {
		return nil
	}
	var p wire.AcceptPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	if p.Config != ann.payload.Config {
		return fmt.Errorf("%w: config differs from announcement", ErrBadRoster)
	}

	accepted := false
	for _, m := range p.Members {
		if m.Key == e.pub {
			accepted = true
			break
		}
	}
	if !accepted {
		// Not on the roster; the table is none of our business.
		delete(e.announces, env.GameID)
		return nil
	}

	sess, err := p.Session()
	if err != nil {
		return err
	}
	table, err := game.NewGame(p.Config)
	if err != nil {
		return err
	}
	table.SetExternalDeal(true)
	table.SetClock(e.tableClock())

	// Re-seat the roster in seat order; the assignments must reproduce, so
	// a host cannot hand out seats the table logic would never assign.
	keys := make(map[string]int, len(p.Members))
	memberKeys := make([]string, 0, len(p.Members))
	for i, m := range p.Members {
		if i > 0 && m.Seat <= p.Members[i-1].Seat {
			return fmt.Errorf("%w: seats out of order", ErrBadRoster)
		}
		seat, err := table.AddPlayer(m.Key, m.Name, m.BuyIn)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadRoster, err)
		}
		if seat != m.Seat {
			return fmt.Errorf("%w: seat %d assigned where roster says %d", ErrBadRoster, seat, m.Seat)
		}
		keys[m.Key] = i
		memberKeys = append(memberKeys, m.Key)
	}

	esc, err := e.escrows.Open(env.GameID, p.Config.MinBuyIn, memberKeys, 0)
	if err != nil {
		return err
	}
	table.AttachEscrow(esc)
	if err := table.BeginEscrow(); err != nil {
		return err
	}

	s := newSession(env.GameID, ann.host, p, sess, table, esc, keys)
	e.sessions[env.GameID] = s
	delete(e.announces, env.GameID)
	e.logger.Info("table accepted",
		"game", shortID(env.GameID), "members", len(p.Members), "seat", table.Player(e.pub).Seat)
	return nil
}
