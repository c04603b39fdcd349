package peer

import (
	"fmt"

	"github.com/d-protocol/syncsaga"
	"github.com/d-protocol/timebank"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/game"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/sra"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/wire"
)

// session is one accepted table: the deterministic game copy, the escrow
// mirror, the cipher session every hand derives keys from, and the
// bookkeeping that drives the per-hand ceremony. All access happens under
// the engine lock.
type session struct {
	id      string
	hostKey string
	cfg     game.Config
	members []wire.MemberInfo
	keys    map[string]int // member key -> roster index

	sra   *sra.Session
	table *game.Game
	esc   *escrow.Account

	// Table readiness doubles as stake confirmation: a member's ready means
	// its deposit landed, and the escrow mirror records it.
	readyTable     *syncsaga.ReadyGroup
	funded         map[string]bool
	tableReadyDone bool

	hand *ceremony

	// Ceremony messages for the next hand can outrun the host's start;
	// they wait here until the ceremony exists.
	early []*wire.Envelope

	// Settle messages can outrun a slow peer's own hand end.
	settleBacklog map[string]wire.SettlePayload
	settleSigned  bool
	signedTx      []byte

	lastRecorded uint64
	lastSynced   uint64

	tb       *timebank.TimeBank
	deadline int64
}

func newSession(id, hostKey string, p wire.AcceptPayload, sess *sra.Session, table *game.Game, esc *escrow.Account, keys map[string]int) *session {
	s := &session{
		id:            id,
		hostKey:       hostKey,
		cfg:           p.Config,
		members:       append([]wire.MemberInfo(nil), p.Members...),
		keys:          keys,
		sra:           sess,
		table:         table,
		esc:           esc,
		funded:        map[string]bool{},
		settleBacklog: map[string]wire.SettlePayload{},
		tb:            timebank.NewTimeBank(),
	}
	s.readyTable = syncsaga.NewReadyGroup()
	s.readyTable.ResetParticipants()
	for i := range s.members {
		s.readyTable.Add(int64(i), false)
	}
	s.readyTable.Start()
	return s
}

// member returns the roster entry for a key, nil for strangers.
func (s *session) member(key string) *wire.MemberInfo {
	if i, ok := s.keys[key]; ok {
		return &s.members[i]
	}
	return nil
}

// requireMember rejects envelopes from keys outside the roster.
func (s *session) requireMember(key string) error {
	if s.member(key) == nil {
		return fmt.Errorf("%w: %s", ErrNotMember, shortID(key))
	}
	return nil
}

// observer reports whether a key has no live seat: never seated, or seated
// but leaving. Observers follow the table and co-sign settlements; they do
// not take part in ceremonies.
func (s *session) observer(key string) bool {
	p := s.table.Player(key)
	return p == nil || p.Leaving
}

// actingHost is the member who drives between-hand transitions: the lowest
// roster index still holding a live seat. Survives the original host
// leaving.
func (s *session) actingHost() string {
	for i := range s.members {
		if !s.observer(s.members[i].Key) {
			return s.members[i].Key
		}
	}
	return s.hostKey
}

// allReady reports whether every participant of a ready group has checked
// in.
func allReady(rg *syncsaga.ReadyGroup) bool {
	states := rg.GetParticipantStates()
	if len(states) == 0 {
		return false
	}
	for _, ok := range states {
		if !ok {
			return false
		}
	}
	return true
}

// markReady flips one participant if it exists and is not already ready.
func markReady(rg *syncsaga.ReadyGroup, id int64) {
	if isReady, exists := rg.GetParticipantStates()[id]; exists && !isReady {
		rg.Ready(id)
	}
}
