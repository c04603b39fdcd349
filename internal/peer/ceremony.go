package peer

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/d-protocol/syncsaga"
	"github.com/thoas/go-funk"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/game"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/mental"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/sra"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/wire"
)

// Relay kinds. A relay walks one batch of deck positions through the
// providers that must remove their layer, in order.
const (
	relayHoles = iota // deal: everyone but the owner provides, owner finishes locally
	relayBoard        // community cards: every position provides
	relayDraw         // draw replacements: like holes
	relayShow         // showdown: the owner opens its stashed own-layer partials
)

// relay tracks one reveal batch. Providers go strictly in order; partials
// from later providers wait in the backlog because each partial chains over
// the previous one.
type relay struct {
	kind       int
	seat       int
	owner      string
	positions  []int
	providers  []int
	next       int
	queuedMine bool
	backlog    map[int][]wire.PartialReveal
	done       bool
}

type pendingDeck struct {
	deck   *mental.EncryptedDeck
	sender int
}

type pendingReveal struct {
	sender  int
	reveals []wire.PartialReveal
}

// ceremony is one hand's cryptographic state: the protocol instance, the
// deal plan that pins cards to deck positions, and the reveal relays in
// flight. It exists from start until the hand's books close.
type ceremony struct {
	number    uint64
	order     []string       // ceremony order: participant keys by seat ascending
	pos       map[string]int // key -> ceremony position
	me        int
	dealSeats []int // in-hand seats clockwise from the dealer's left

	proto *mental.Protocol
	plan  *mental.DealPlan

	chainLen    int
	sentKey     bool
	createdDeck bool
	shuffled    bool
	deckBacklog map[int]*pendingDeck
	keyBacklog  map[int][]byte

	ready          *syncsaga.ReadyGroup // hole readiness, keyed by seat
	holesReadySent bool
	holesConfirmed bool

	relays        []*relay
	revealBacklog []pendingReveal

	planned   map[game.Phase]bool
	showBuilt bool

	// seatPositions maps each dealt seat to the deck positions backing its
	// current hole cards, kept aligned through draws so showdown reveals
	// the right indices everywhere.
	seatPositions map[int][]int

	// stash keeps this node's own-layer partials by deck position; at
	// showdown they are broadcast as-is, which is what lets every receiver
	// finish the decryption without a fresh round trip.
	stash map[int][]byte

	// heldActions parks actions that arrived while the table was still
	// waiting on cards. A peer whose relays completed first can act before
	// our partials land; the action replays once the cards do.
	heldActions []*wire.Envelope
}

func (s *session) ceremonyFor(hand uint64) *ceremony {
	if s.hand != nil && s.hand.number == hand {
		return s.hand
	}
	return nil
}

// dealRotation lists the seats dealt into the current hand, clockwise from
// the dealer's left. This is the order hole positions are allocated in.
func dealRotation(t *game.Game) []int {
	cfg := t.Config()
	out := make([]int, 0, cfg.MaxPlayers)
	for step := 1; step <= cfg.MaxPlayers; step++ {
		seat := (t.DealerSeat() + step) % cfg.MaxPlayers
		if p := t.PlayerBySeat(seat); p != nil && p.InHand() {
			out = append(out, seat)
		}
	}
	return out
}

func providersAll(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func providersExcept(n, skip int) []int {
	out := make([]int, 0, n-1)
	for i := 0; i < n; i++ {
		if i != skip {
			out = append(out, i)
		}
	}
	return out
}

// beginCeremony opens the card ceremony for the hand the table just
// started: fresh keys, a commitment on the wire, and a deal plan every
// participant derives identically.
func (e *Engine) beginCeremony(s *session) error {
	hand := s.table.HandNumber()
	playing := funk.Filter(s.table.Players(), func(p *game.Player) bool {
		return !p.Leaving
	}).([]*game.Player)
	order := funk.Map(playing, func(p *game.Player) string { return p.Key }).([]string)
	pos := make(map[string]int, len(order))
	for i, k := range order {
		pos[k] = i
	}
	me, ok := pos[e.pub]
	if !ok {
		// Observers follow the table through state sync; the ceremony and
		// the messages stashed for it are not theirs.
		s.hand = nil
		s.early = nil
		return nil
	}

	proto := mental.NewProtocol()
	if err := proto.Initialize(len(order), me); err != nil {
		return err
	}
	if err := proto.SetSession(s.sra); err != nil {
		return err
	}
	commit, err := proto.GenerateKeysAndCommit(rand.Reader, e.opts.ModulusBits)
	if err != nil {
		return err
	}

	deal := dealRotation(s.table)
	plan, err := mental.NewDealPlan(deal, s.cfg.Rules().HoleCards())
	if err != nil {
		return err
	}

	c := &ceremony{
		number:        hand,
		order:         order,
		pos:           pos,
		me:            me,
		dealSeats:     deal,
		proto:         proto,
		plan:          plan,
		deckBacklog:   map[int]*pendingDeck{},
		keyBacklog:    map[int][]byte{},
		planned:       map[game.Phase]bool{},
		seatPositions: map[int][]int{},
		stash:         map[int][]byte{},
	}
	for _, seat := range deal {
		c.seatPositions[seat] = plan.HolePositions(seat)
	}
	c.ready = syncsaga.NewReadyGroup()
	c.ready.ResetParticipants()
	for _, seat := range deal {
		c.ready.Add(int64(seat), false)
	}
	c.ready.Start()

	s.hand = c
	e.logger.Info("hand started",
		"game", shortID(s.id), "hand", hand, "players", len(order), "dealer", s.table.DealerSeat())
	if err := e.queue(wire.TypeKeyCommit, s.id, wire.KeyCommitPayload{Hand: hand, Commitment: commit[:]}); err != nil {
		return err
	}
	return e.drainEarly(s)
}

// stashEarly holds a ceremony message that outran the host's start for the
// next hand.
func (e *Engine) stashEarly(s *session, env *wire.Envelope, hand uint64) error {
	if hand != s.table.HandNumber()+1 {
		return fmt.Errorf("%w: hand %d", ErrWrongHand, hand)
	}
	if len(s.early) >= 256 {
		return fmt.Errorf("peer: too many messages ahead of hand %d", hand)
	}
	s.early = append(s.early, env)
	return nil
}

// drainEarly replays messages stashed ahead of the ceremony. Anything that
// stashes itself again waits for the next drain instead of looping here.
func (e *Engine) drainEarly(s *session) error {
	held := s.early
	s.early = nil
	for _, env := range held {
		if err := e.handleLocked(env); err != nil {
			e.logger.Debug("held message rejected", "type", env.Type, "err", err)
		}
	}
	return nil
}

// holdAction parks an action until the cards it raced arrive.
func (c *ceremony) holdAction(env *wire.Envelope) error {
	if len(c.heldActions) >= 64 {
		return fmt.Errorf("peer: too many actions held")
	}
	c.heldActions = append(c.heldActions, env)
	return nil
}

func (e *Engine) drainHeld(s *session, c *ceremony) error {
	held := c.heldActions
	c.heldActions = nil
	for _, env := range held {
		if err := e.handleLocked(env); err != nil {
			e.logger.Debug("held action rejected", "type", env.Type, "err", err)
		}
	}
	return nil
}

func (e *Engine) processKeyCommit(env *wire.Envelope) error {
	s, err := e.session(env.GameID)
	if err != nil {
		return err
	}
	if err := s.requireMember(env.Sender); err != nil {
		return err
	}
	if s.observer(e.pub) {
		return nil
	}
	var p wire.KeyCommitPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	c := s.ceremonyFor(p.Hand)
	if c == nil {
		return e.stashEarly(s, env, p.Hand)
	}
	if env.Sender == e.pub {
		return nil // own commitment came from key generation
	}
	posn, ok := c.pos[env.Sender]
	if !ok {
		return fmt.Errorf("%w: %s has no ceremony position", ErrNotMember, shortID(env.Sender))
	}
	if len(p.Commitment) != sra.CommitmentSize {
		return fmt.Errorf("peer: commitment must be %d bytes, got %d", sra.CommitmentSize, len(p.Commitment))
	}
	var commit [sra.CommitmentSize]byte
	copy(commit[:], p.Commitment)
	if err := c.proto.ReceiveCommitment(posn, commit); err != nil {
		if errors.Is(err, mental.ErrDuplicate) {
			return nil
		}
		return err
	}
	return e.advanceCeremony(s, c)
}

func (e *Engine) processKeyReveal(env *wire.Envelope) error {
	s, err := e.session(env.GameID)
	if err != nil {
		return err
	}
	if err := s.requireMember(env.Sender); err != nil {
		return err
	}
	if s.observer(e.pub) {
		return nil
	}
	var p wire.KeyRevealPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	c := s.ceremonyFor(p.Hand)
	if c == nil {
		return e.stashEarly(s, env, p.Hand)
	}
	if env.Sender == e.pub {
		return nil
	}
	posn, ok := c.pos[env.Sender]
	if !ok {
		return fmt.Errorf("%w: %s has no ceremony position", ErrNotMember, shortID(env.Sender))
	}
	if len(p.Key) == 0 {
		return fmt.Errorf("peer: empty public key from %s", shortID(env.Sender))
	}
	if c.proto.State() == mental.CommitCollection {
		// Commitments still outstanding; hold the key until they land.
		if _, dup := c.keyBacklog[posn]; !dup {
			c.keyBacklog[posn] = p.Key
		}
		return nil
	}
	if err := c.proto.ReceivePublicKey(posn, new(big.Int).SetBytes(p.Key)); err != nil {
		if errors.Is(err, mental.ErrDuplicate) {
			return nil
		}
		return err
	}
	return e.advanceCeremony(s, c)
}

// advanceCeremony pushes whatever the ceremony is now unblocked on: our own
// key reveal, keys held back for missing commitments, the creator's initial
// deck, or a backlogged shuffle link.
func (e *Engine) advanceCeremony(s *session, c *ceremony) error {
	if c.proto.State() == mental.KeyReveal && !c.sentKey {
		c.sentKey = true
		key := c.proto.PublicKey(c.me)
		if key == nil {
			return fmt.Errorf("peer: own public key missing")
		}
		if err := e.queue(wire.TypeKeyReveal, s.id, wire.KeyRevealPayload{Hand: c.number, Key: key.Bytes()}); err != nil {
			return err
		}
	}
	if c.proto.State() == mental.KeyReveal && len(c.keyBacklog) > 0 {
		for posn, raw := range c.keyBacklog {
			delete(c.keyBacklog, posn)
			if err := c.proto.ReceivePublicKey(posn, new(big.Int).SetBytes(raw)); err != nil {
				return err
			}
		}
		return e.advanceCeremony(s, c)
	}
	if c.proto.State() == mental.Shuffling {
		if c.me == 0 && !c.createdDeck {
			c.createdDeck = true
			deck, err := c.proto.CreateInitialDeck(rand.Reader)
			if err != nil {
				return err
			}
			if err := e.queue(wire.TypeDeck, s.id, wire.NewDeckPayload(c.number, deck)); err != nil {
				return err
			}
		}
		if pd := c.deckBacklog[c.chainLen+1]; pd != nil {
			delete(c.deckBacklog, c.chainLen+1)
			return e.acceptDeck(s, c, pd.deck, pd.sender)
		}
	}
	return nil
}

func (e *Engine) processDeck(env *wire.Envelope) error {
	s, err := e.session(env.GameID)
	if err != nil {
		return err
	}
	if err := s.requireMember(env.Sender); err != nil {
		return err
	}
	if s.observer(e.pub) {
		return nil
	}
	var p wire.DeckPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	c := s.ceremonyFor(p.Hand)
	if c == nil {
		return e.stashEarly(s, env, p.Hand)
	}
	posn, ok := c.pos[env.Sender]
	if !ok {
		return fmt.Errorf("%w: %s has no ceremony position", ErrNotMember, shortID(env.Sender))
	}
	d := p.Deck()
	got := len(d.Shufflers)
	if got <= c.chainLen {
		return nil // replay of a link we already hold
	}
	if c.proto.State() != mental.Shuffling || got > c.chainLen+1 {
		c.deckBacklog[got] = &pendingDeck{deck: d, sender: posn}
		return nil
	}
	return e.acceptDeck(s, c, d, posn)
}

// acceptDeck validates and applies the next shuffle-chain link: positions
// shuffle in ceremony order, each link comes from the position that added
// it, and the complete chain installs everywhere at once.
func (e *Engine) acceptDeck(s *session, c *ceremony, d *mental.EncryptedDeck, sender int) error {
	k := len(d.Shufflers)
	for i, posn := range d.Shufflers {
		if posn != i {
			return fmt.Errorf("peer: shuffle chain out of order at link %d", i)
		}
	}
	if sender != k-1 {
		return fmt.Errorf("peer: chain of %d links sent by position %d", k, sender)
	}
	c.chainLen = k

	if k == len(c.order) {
		if err := c.proto.InstallDeck(d); err != nil {
			return err
		}
		e.logger.Info("deck installed", "game", shortID(s.id), "hand", c.number, "layers", k)
		if err := e.buildHoleRelays(s, c); err != nil {
			return err
		}
		return e.pumpHand(s, c)
	}
	if c.me == k && !c.shuffled {
		c.shuffled = true
		out, err := c.proto.EncryptAndShuffle(d, rand.Reader)
		if err != nil {
			return err
		}
		if err := e.queue(wire.TypeDeck, s.id, wire.NewDeckPayload(c.number, out)); err != nil {
			return err
		}
	}
	return e.advanceCeremony(s, c)
}

// buildHoleRelays opens one reveal relay per dealt seat, in deal order. The
// owner's own layer stays on until showdown.
func (e *Engine) buildHoleRelays(s *session, c *ceremony) error {
	for _, seat := range c.dealSeats {
		p := s.table.PlayerBySeat(seat)
		if p == nil {
			return fmt.Errorf("peer: dealt seat %d is empty", seat)
		}
		c.relays = append(c.relays, &relay{
			kind:      relayHoles,
			seat:      seat,
			owner:     p.Key,
			positions: c.plan.HolePositions(seat),
			providers: providersExcept(len(c.order), c.pos[p.Key]),
			backlog:   map[int][]wire.PartialReveal{},
		})
	}
	return nil
}

func (e *Engine) processCardReveal(env *wire.Envelope) error {
	s, err := e.session(env.GameID)
	if err != nil {
		return err
	}
	if err := s.requireMember(env.Sender); err != nil {
		return err
	}
	if s.observer(e.pub) {
		return nil
	}
	var p wire.CardRevealPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	if len(p.Reveals) == 0 {
		return fmt.Errorf("peer: empty reveal batch from %s", shortID(env.Sender))
	}
	c := s.ceremonyFor(p.Hand)
	if c == nil {
		return e.stashEarly(s, env, p.Hand)
	}
	posn, ok := c.pos[env.Sender]
	if !ok {
		return fmt.Errorf("%w: %s has no ceremony position", ErrNotMember, shortID(env.Sender))
	}
	if err := e.applyReveal(s, c, posn, p.Reveals, true); err != nil {
		return err
	}
	return e.postApply(s)
}

// applyReveal routes one provider's partials to its relay. Out-of-turn
// batches wait in the relay backlog; batches that match no relay yet wait
// at the hand level when hold is set.
func (e *Engine) applyReveal(s *session, c *ceremony, sender int, reveals []wire.PartialReveal, hold bool) error {
	r := c.matchRelay(reveals)
	if r == nil {
		if hold {
			c.revealBacklog = append(c.revealBacklog, pendingReveal{sender: sender, reveals: reveals})
		}
		return nil
	}
	if r.providers[r.next] != sender {
		if funk.Contains(r.providers[r.next+1:], sender) {
			r.backlog[sender] = reveals
			return nil
		}
		return nil // provider already applied; replay
	}
	if err := e.foldReveals(c, r, sender, reveals); err != nil {
		return err
	}
	r.next++
	for r.next < len(r.providers) {
		held, ok := r.backlog[r.providers[r.next]]
		if !ok {
			break
		}
		delete(r.backlog, r.providers[r.next])
		if err := e.foldReveals(c, r, r.providers[r.next], held); err != nil {
			return err
		}
		r.next++
	}
	if r.next >= len(r.providers) {
		r.done = true
		if err := e.finishRelay(s, c, r); err != nil {
			return err
		}
	}
	return e.pumpHand(s, c)
}

// foldReveals applies one provider's partials position by position. The
// protocol enforces chaining and rejects a final partial that does not
// decode to a card.
func (e *Engine) foldReveals(c *ceremony, r *relay, sender int, reveals []wire.PartialReveal) error {
	if len(reveals) != len(r.positions) {
		return fmt.Errorf("peer: reveal batch covers %d of %d positions", len(reveals), len(r.positions))
	}
	for i, rv := range reveals {
		if rv.Pos != r.positions[i] {
			return fmt.Errorf("peer: reveal batch position %d does not match relay", rv.Pos)
		}
		if c.proto.HasPartial(rv.Pos, sender) {
			continue
		}
		if err := c.proto.ReceivePartialDecrypt(rv.Pos, sender, new(big.Int).SetBytes(rv.Partial)); err != nil {
			if errors.Is(err, mental.ErrDuplicate) {
				continue
			}
			return err
		}
	}
	return nil
}

// pumpHand drains reveals that were waiting for a relay and provides this
// node's partials wherever its turn has come.
func (e *Engine) pumpHand(s *session, c *ceremony) error {
	if len(c.revealBacklog) > 0 {
		held := c.revealBacklog
		c.revealBacklog = nil
		for _, pr := range held {
			if err := e.applyReveal(s, c, pr.sender, pr.reveals, true); err != nil {
				return err
			}
		}
	}
	for _, r := range c.relays {
		if r.done || r.queuedMine || r.providers[r.next] != c.me {
			continue
		}
		batch, ok, err := c.buildBatch(r)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		r.queuedMine = true
		if err := e.queue(wire.TypeCardReveal, s.id, wire.CardRevealPayload{Hand: c.number, Reveals: batch}); err != nil {
			return err
		}
	}
	return nil
}

// buildBatch computes this node's partials for a relay. Show relays replay
// the stashed own-layer partials instead; they are not ready until every
// position has one.
func (c *ceremony) buildBatch(r *relay) ([]wire.PartialReveal, bool, error) {
	out := make([]wire.PartialReveal, 0, len(r.positions))
	if r.kind == relayShow {
		for _, pos := range r.positions {
			raw, ok := c.stash[pos]
			if !ok {
				return nil, false, nil
			}
			out = append(out, wire.PartialReveal{Pos: pos, Partial: raw})
		}
		return out, true, nil
	}
	for _, pos := range r.positions {
		partial, err := c.proto.ProvidePartialDecrypt(pos)
		if err != nil {
			return nil, false, err
		}
		out = append(out, wire.PartialReveal{Pos: pos, Partial: partial.Bytes()})
	}
	return out, true, nil
}

func (c *ceremony) matchRelay(reveals []wire.PartialReveal) *relay {
	for _, r := range c.relays {
		if r.done || len(r.positions) != len(reveals) {
			continue
		}
		match := true
		for i := range reveals {
			if reveals[i].Pos != r.positions[i] {
				match = false
				break
			}
		}
		if match {
			return r
		}
	}
	return nil
}

func (c *ceremony) allShowDone() bool {
	built := false
	for _, r := range c.relays {
		if r.kind != relayShow {
			continue
		}
		built = true
		if !r.done {
			return false
		}
	}
	return built
}

// finishRelay lands a completed relay in the table: board cards apply
// everywhere, hole and draw cards only where they are ours to see, showdown
// cards everywhere again.
func (e *Engine) finishRelay(s *session, c *ceremony, r *relay) error {
	switch r.kind {
	case relayBoard:
		board, err := collectCards(c, r.positions)
		if err != nil {
			return err
		}
		if err := s.table.ApplyCommunity(board); err != nil {
			return err
		}
		return e.drainHeld(s, c)

	case relayHoles:
		if r.owner != e.pub {
			return nil
		}
		hole, err := e.finishOwn(c, r)
		if err != nil {
			return err
		}
		if err := s.table.SetHoleCards(r.seat, hole); err != nil {
			return err
		}
		if !c.holesReadySent {
			c.holesReadySent = true
			return e.queue(wire.TypeReady, s.id, wire.ReadyPayload{Scope: wire.ReadyScopeHoles, Hand: c.number})
		}
		return nil

	case relayDraw:
		if r.owner != e.pub {
			return nil
		}
		repl, err := e.finishOwn(c, r)
		if err != nil {
			return err
		}
		if err := s.table.ConfirmDraw(r.seat, repl); err != nil {
			return err
		}
		return e.drainHeld(s, c)

	case relayShow:
		hole, err := collectCards(c, r.positions)
		if err != nil {
			return err
		}
		if err := s.table.SetHoleCards(r.seat, hole); err != nil {
			return err
		}
		if c.allShowDone() {
			return s.table.FinishShowdown()
		}
		return nil
	}
	return fmt.Errorf("peer: unknown relay kind %d", r.kind)
}

// finishOwn removes this node's own layer from a relay meant for it,
// stashing each partial for showdown, and returns the plaintext cards.
func (e *Engine) finishOwn(c *ceremony, r *relay) ([]cards.Card, error) {
	out := make([]cards.Card, 0, len(r.positions))
	for _, pos := range r.positions {
		partial, err := c.proto.ProvidePartialDecrypt(pos)
		if err != nil {
			return nil, err
		}
		c.stash[pos] = partial.Bytes()
		if err := c.proto.ReceivePartialDecrypt(pos, c.me, partial); err != nil {
			return nil, err
		}
		card, ok := c.proto.CardAt(pos)
		if !ok {
			return nil, fmt.Errorf("peer: own card at position %d did not decode", pos)
		}
		out = append(out, card)
	}
	return out, nil
}

func collectCards(c *ceremony, positions []int) ([]cards.Card, error) {
	out := make([]cards.Card, 0, len(positions))
	for _, pos := range positions {
		card, ok := c.proto.CardAt(pos)
		if !ok {
			return nil, fmt.Errorf("peer: deck position %d not fully revealed", pos)
		}
		out = append(out, card)
	}
	return out, nil
}
