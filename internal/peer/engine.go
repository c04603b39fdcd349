// Package peer runs one node's seat at every table it plays. The engine
// owns the deterministic table copies, the per-hand card ceremonies, and
// the escrow mirrors, and talks to the rest of the mesh through a pluggable
// Broadcaster. Every inbound message is checked (timestamp window, envelope
// signature, membership) and processed to completion under one lock before
// the next is taken; outbound messages the engine produces while processing
// are flushed afterwards in order, and each is applied locally through the
// same handler path a peer would take, so the local node never diverges
// from what it told the mesh.
package peer

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/d-protocol/timebank"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/game"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/sra"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/wire"
)

var (
	ErrClosed         = errors.New("peer: engine closed")
	ErrUnknownGame    = errors.New("peer: unknown game")
	ErrNotMember      = errors.New("peer: sender is not a table member")
	ErrNotHost        = errors.New("peer: host-only operation")
	ErrWrongHand      = errors.New("peer: message for a different hand")
	ErrNoAnnouncement = errors.New("peer: no live announcement for game")
	ErrBadRoster      = errors.New("peer: accept roster is inconsistent")
	ErrSeatingClosed  = errors.New("peer: seating is closed")
)

// Broadcaster delivers signed envelopes to the mesh. Implementations must
// not call back into the engine on the same goroutine; the engine applies
// its own messages locally itself.
type Broadcaster interface {
	Broadcast(env *wire.Envelope) error

	// Send delivers to a single peer, identified by hex public key. Used
	// for direct catch-up replies; losing the message is acceptable.
	Send(peerKey string, env *wire.Envelope) error
}

// Recorder archives finished hands and settlements. Optional; failures are
// logged and never retried.
type Recorder interface {
	RecordHand(gameID string, result *game.HandResult, history []game.ActionRecord) error
	RecordSettlement(gameID string, outcome *escrow.SettlementOutcome, signedTx []byte) error
}

// Options fixes the node-level knobs.
type Options struct {
	// Name is the display name used when hosting or joining tables.
	Name string

	// ModulusBits sizes the shared cipher session generated when hosting.
	// Zero means sra.DefaultModulusBits.
	ModulusBits int
}

// Engine is one node's protocol state. All methods are safe for concurrent
// use; one message is processed to completion before the next.
type Engine struct {
	opts   Options
	logger log.Logger
	key    ed25519.PrivateKey
	pub    string

	out      Broadcaster
	recorder Recorder
	escrows  *escrow.Manager

	mu        sync.Mutex
	closed    bool
	clock     func() time.Time
	announces map[string]*announcement
	sessions  map[string]*session
	outbox    []*wire.Envelope

	sweeper *timebank.TimeBank
}

// New builds an engine around a node key. The key is both the transport
// identity and the player identity at every table.
func New(key ed25519.PrivateKey, opts Options, logger log.Logger, out Broadcaster, escrows *escrow.Manager) (*Engine, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("peer: node key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	if out == nil {
		return nil, fmt.Errorf("peer: broadcaster is required")
	}
	if escrows == nil {
		escrows = escrow.NewManager()
	}
	pub := hex.EncodeToString(key.Public().(ed25519.PublicKey))
	if opts.Name == "" {
		opts.Name = pub[:8]
	}
	if opts.ModulusBits == 0 {
		opts.ModulusBits = sra.DefaultModulusBits
	}
	e := &Engine{
		opts:      opts,
		logger:    logger.With("module", "peer"),
		key:       key,
		pub:       pub,
		out:       out,
		escrows:   escrows,
		clock:     time.Now,
		announces: map[string]*announcement{},
		sessions:  map[string]*session{},
		sweeper:   timebank.NewTimeBank(),
	}
	e.scheduleSweep()
	return e, nil
}

// PublicKey returns the node identity as a hex public key.
func (e *Engine) PublicKey() string { return e.pub }

// SetRecorder attaches an archive for finished hands and settlements.
func (e *Engine) SetRecorder(r Recorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder = r
}

// SetClock replaces the time source. Tables created afterwards inherit it.
func (e *Engine) SetClock(fn func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = fn
}

// Close cancels timers and refuses further messages.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.sweeper.Cancel()
	for _, s := range e.sessions {
		if s.tb != nil {
			s.tb.Cancel()
		}
	}
}

// HandleEnvelope is the inbound entry point. Failures poison only the one
// message; they are logged and returned, never fatal to the engine.
func (e *Engine) HandleEnvelope(env *wire.Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	err := e.handleLocked(env)
	e.flushLocked()
	return err
}

// do runs a public operation under the lock and flushes what it queued.
func (e *Engine) do(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	err := fn()
	e.flushLocked()
	return err
}

func (e *Engine) handleLocked(env *wire.Envelope) error {
	if env == nil {
		return fmt.Errorf("peer: nil envelope")
	}
	if !env.Type.Known() {
		return fmt.Errorf("%w: %q", wire.ErrUnknownType, env.Type)
	}
	if err := env.CheckTimestamp(e.clock()); err != nil {
		return err
	}
	if err := env.Verify(); err != nil {
		return err
	}

	var err error
	switch env.Type {
	case wire.TypeAnnounce:
		err = e.processAnnounce(env)
	case wire.TypeJoin:
		err = e.processJoin(env)
	case wire.TypeAccept:
		err = e.processAccept(env)
	case wire.TypeReady:
		err = e.processReady(env)
	case wire.TypeStart:
		err = e.processStart(env)
	case wire.TypeKeyCommit:
		err = e.processKeyCommit(env)
	case wire.TypeKeyReveal:
		err = e.processKeyReveal(env)
	case wire.TypeDeck:
		err = e.processDeck(env)
	case wire.TypeCardReveal:
		err = e.processCardReveal(env)
	case wire.TypeAction:
		err = e.processAction(env)
	case wire.TypeStateSync:
		err = e.processStateSync(env)
	case wire.TypeSettle:
		err = e.processSettle(env)
	case wire.TypeLeave:
		err = e.processLeave(env)
	}
	if err != nil {
		e.logger.Debug("message rejected",
			"type", env.Type, "game", shortID(env.GameID), "sender", shortID(env.Sender), "err", err)
	}
	return err
}

// queue signs and stages an outbound envelope. flushLocked broadcasts it
// and applies it locally through the normal handler path.
func (e *Engine) queue(typ wire.Type, gameID string, payload any) error {
	env, err := wire.NewEnvelope(typ, gameID, payload, e.clock())
	if err != nil {
		return err
	}
	if err := env.Sign(e.key); err != nil {
		return err
	}
	e.outbox = append(e.outbox, env)
	return nil
}

func (e *Engine) flushLocked() {
	for len(e.outbox) > 0 {
		env := e.outbox[0]
		e.outbox = e.outbox[1:]
		if err := e.out.Broadcast(env); err != nil {
			e.logger.Error("broadcast failed", "type", env.Type, "err", err)
		}
		if err := e.handleLocked(env); err != nil {
			e.logger.Error("own message rejected", "type", env.Type, "err", err)
		}
	}
}

// sendDirect signs and transmits to one peer without local application;
// used for catch-up replies that would be no-ops locally.
func (e *Engine) sendDirect(peerKey string, typ wire.Type, gameID string, payload any) {
	env, err := wire.NewEnvelope(typ, gameID, payload, e.clock())
	if err == nil {
		err = env.Sign(e.key)
	}
	if err == nil {
		err = e.out.Send(peerKey, env)
	}
	if err != nil {
		e.logger.Debug("direct send failed", "type", typ, "peer", shortID(peerKey), "err", err)
	}
}

func (e *Engine) session(gameID string) (*session, error) {
	s := e.sessions[gameID]
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGame, shortID(gameID))
	}
	return s, nil
}

// WithTable runs fn against a table under the engine lock. The table must
// not be retained past the call.
func (e *Engine) WithTable(gameID string, fn func(t *game.Game) error) error {
	return e.do(func() error {
		s, err := e.session(gameID)
		if err != nil {
			return err
		}
		return fn(s.table)
	})
}

// Games lists the ids of every table this node is playing.
func (e *Engine) Games() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		out = append(out, id)
	}
	return out
}

// SignedSettlement returns the fully signed settlement transaction once
// every member has signed, nil before that.
func (e *Engine) SignedSettlement(gameID string) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.sessions[gameID]; s != nil && len(s.signedTx) > 0 {
		return append([]byte(nil), s.signedTx...)
	}
	return nil
}

func (e *Engine) tableClock() func() int64 {
	return func() int64 { return e.clock().Unix() }
}

// scheduleSweep arms the periodic announcement-expiry sweep.
func (e *Engine) scheduleSweep() {
	_ = e.sweeper.NewTask(time.Minute, func(isCancelled bool) {
		if isCancelled {
			return
		}
		e.mu.Lock()
		if !e.closed {
			now := e.clock().Unix()
			for id, ann := range e.announces {
				if ann.expires < now && e.sessions[id] == nil {
					delete(e.announces, id)
					e.logger.Debug("announcement expired", "game", shortID(id))
				}
			}
		}
		closed := e.closed
		e.mu.Unlock()
		if !closed {
			e.scheduleSweep()
		}
	})
}

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
