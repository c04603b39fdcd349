package cmd

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/chain"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/config"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/game"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/peer"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/wire"
)

func newDemoCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Play one scripted heads-up hand end to end in this process",
		Long: `Runs two peers in one process, deals a hold'em hand through the full
shuffle ceremony, plays it to showdown, and settles the escrow on an
in-process ledger. No network, no disk beyond a throwaway chain dir.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			return runDemo(cfg)
		},
	}
}

// loopback carries envelopes between engines living in this process. Sends
// append under the loopback's own lock and deliver later, so an engine never
// gets re-entered while it still holds its lock from the originating call.
type loopback struct {
	mu      sync.Mutex
	order   []string
	engines map[string]*peer.Engine
	queue   []loopbackMsg
}

type loopbackMsg struct {
	env    *wire.Envelope
	target string // empty broadcasts to everyone but the sender
}

func (l *loopback) Broadcast(env *wire.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, loopbackMsg{env: env})
	return nil
}

func (l *loopback) Send(peerKey string, env *wire.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, loopbackMsg{env: env, target: peerKey})
	return nil
}

// drain delivers queued envelopes in order until the mesh is quiet.
// Rejections are the receiving engine's business, same as on the wire.
func (l *loopback) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		msg := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		for _, key := range l.order {
			if msg.target == "" && key == msg.env.Sender {
				continue
			}
			if msg.target != "" && key != msg.target {
				continue
			}
			_ = l.engines[key].HandleEnvelope(msg.env)
		}
	}
}

// demoSeat is one in-process peer: its signing key, its engine, and the
// engine's view of the table (the only view that can see its hole cards).
type demoSeat struct {
	name   string
	key    string
	priv   ed25519.PrivateKey
	engine *peer.Engine
}

func newDemoSeat(name string, cfg config.Config, mesh *loopback) (*demoSeat, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate %s key: %w", name, err)
	}
	eng, err := peer.New(priv, peer.Options{Name: name, ModulusBits: cfg.ModulusBits}, log.NewNopLogger(), mesh, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s engine: %w", name, err)
	}
	seat := &demoSeat{name: name, key: eng.PublicKey(), priv: priv, engine: eng}
	mesh.order = append(mesh.order, seat.key)
	mesh.engines[seat.key] = eng
	return seat, nil
}

const demoBuyIn = 1_000

func runDemo(cfg config.Config) error {
	pterm.DefaultBox.
		WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1).
		WithTitle(pterm.LightCyan("coral demo")).WithTitleTopCenter().
		Println("two peers, one shuffled hand, one settled escrow")

	mesh := &loopback{engines: map[string]*peer.Engine{}}
	alice, err := newDemoSeat("alice", cfg, mesh)
	if err != nil {
		return err
	}
	defer alice.engine.Close()
	bob, err := newDemoSeat("bob", cfg, mesh)
	if err != nil {
		return err
	}
	defer bob.engine.Close()
	seats := []*demoSeat{alice, bob}

	gameCfg := game.Config{
		Variant:           game.VariantHoldem,
		SmallBlind:        10,
		BigBlind:          20,
		MinBuyIn:          demoBuyIn,
		MaxBuyIn:          demoBuyIn,
		MaxPlayers:        2,
		ActionTimeoutSecs: cfg.ActionTimeoutSecs,
	}

	gameID, err := alice.engine.Host(gameCfg, demoBuyIn)
	if err != nil {
		return fmt.Errorf("host table: %w", err)
	}
	mesh.drain()
	if err := bob.engine.Join(gameID, demoBuyIn); err != nil {
		return fmt.Errorf("join table: %w", err)
	}
	mesh.drain()
	if err := alice.engine.Accept(gameID); err != nil {
		return fmt.Errorf("accept players: %w", err)
	}
	mesh.drain()
	pterm.Info.Printfln("table %s: alice hosts, bob joins, %d chips each", shortGame(gameID), demoBuyIn)

	pterm.Info.Println("shuffling: both peers commit keys, encrypt, and shuffle the deck...")
	for _, s := range seats {
		if err := s.engine.SendReady(gameID); err != nil {
			return fmt.Errorf("%s ready: %w", s.name, err)
		}
	}
	mesh.drain()

	var dealt bool
	if err := alice.engine.WithTable(gameID, func(t *game.Game) error {
		dealt = t.HandLive() && !t.PendingHoles()
		return nil
	}); err != nil {
		return err
	}
	if !dealt {
		return fmt.Errorf("ceremony did not reach a dealt hand")
	}

	if err := playDemoHand(mesh, seats, gameID); err != nil {
		return err
	}

	if err := alice.engine.Settle(gameID); err != nil {
		return fmt.Errorf("propose settlement: %w", err)
	}
	mesh.drain()
	signed := alice.engine.SignedSettlement(gameID)
	if signed == nil {
		return fmt.Errorf("settlement did not collect both signatures")
	}
	pterm.Success.Printfln("both peers signed the settlement off-chain")

	return settleOnLedger(cfg, seats, gameID, signed)
}

// playDemoHand scripts the betting: the first player to act raises once,
// everything after that calls or checks down to showdown.
func playDemoHand(mesh *loopback, seats []*demoSeat, gameID string) error {
	byKey := map[string]*demoSeat{}
	for _, s := range seats {
		byKey[s.key] = s
	}
	view := seats[0].engine

	renderTable(seats, gameID)
	raised := false
	lastPhase := game.PhasePreflop
	for step := 0; step < 64; step++ {
		var (
			live     bool
			phase    game.Phase
			actorKey string
			owe      uint64
		)
		err := view.WithTable(gameID, func(t *game.Game) error {
			live = t.HandLive()
			phase = t.Phase()
			if !live || t.ActingSeat() < 0 {
				return nil
			}
			p := t.PlayerBySeat(t.ActingSeat())
			if p == nil {
				return nil
			}
			actorKey = p.Key
			if r := t.Round(); r != nil && r.CurrentBet > p.CurrentBet {
				owe = r.CurrentBet - p.CurrentBet
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !live {
			renderTable(seats, gameID, winnerPanel(view, seats, gameID))
			return nil
		}
		if phase != lastPhase {
			renderTable(seats, gameID)
			lastPhase = phase
		}
		actor, ok := byKey[actorKey]
		if !ok {
			return fmt.Errorf("hand live with nobody to act")
		}

		action, amount := "check", uint64(0)
		switch {
		case !raised && phase == game.PhasePreflop:
			action, amount = "raise", 40
			raised = true
			pterm.Info.Printfln("%s raises by %d", pterm.LightCyan(actor.name), amount)
		case owe > 0:
			action = "call"
			pterm.Info.Printfln("%s calls %d", pterm.LightCyan(actor.name), owe)
		default:
			pterm.Info.Printfln("%s checks", pterm.LightCyan(actor.name))
		}
		if err := actor.engine.SendAction(gameID, action, amount); err != nil {
			return fmt.Errorf("%s %s: %w", actor.name, action, err)
		}
		mesh.drain()
	}
	return fmt.Errorf("hand did not finish within 64 actions")
}

// demoLedger drives the escrow chain application block by block, the way a
// consensus engine would over ABCI.
type demoLedger struct {
	app    *chain.App
	dir    string
	height int64
	nonces map[string]uint64
}

func newDemoLedger() (*demoLedger, error) {
	dir, err := os.MkdirTemp("", "coral-demo-chain-")
	if err != nil {
		return nil, fmt.Errorf("chain dir: %w", err)
	}
	app, err := chain.New(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &demoLedger{app: app, dir: dir, nonces: map[string]uint64{}}, nil
}

func (l *demoLedger) close() {
	_ = os.RemoveAll(l.dir)
}

// signedTx wraps chain.NewSignedTx with the ledger's per-account nonces.
func (l *demoLedger) signedTx(typ string, value any, seat *demoSeat) ([]byte, error) {
	l.nonces[seat.key]++
	return chain.NewSignedTx(typ, value, seat.key, l.nonces[seat.key], seat.priv)
}

// commit finalizes one block holding txs and requires every tx to pass.
func (l *demoLedger) commit(txs ...[]byte) ([]*abci.ExecTxResult, error) {
	l.height++
	res, err := l.app.FinalizeBlock(context.Background(), &abci.FinalizeBlockRequest{
		Height: l.height,
		Txs:    txs,
	})
	if err != nil {
		return nil, fmt.Errorf("finalize block %d: %w", l.height, err)
	}
	for i, r := range res.TxResults {
		if r.Code != 0 {
			return nil, fmt.Errorf("block %d tx %d rejected: %s", l.height, i, r.Log)
		}
	}
	if _, err := l.app.Commit(context.Background(), &abci.CommitRequest{}); err != nil {
		return nil, fmt.Errorf("commit block %d: %w", l.height, err)
	}
	return res.TxResults, nil
}

func (l *demoLedger) balance(addr string) (uint64, error) {
	res, err := l.app.Query(context.Background(), &abci.QueryRequest{Path: "/account/" + addr})
	if err != nil {
		return 0, err
	}
	if res.Code != 0 {
		return 0, fmt.Errorf("query account %s: %s", addr, res.Log)
	}
	var acct struct {
		Balance uint64 `json:"balance"`
	}
	if err := json.Unmarshal(res.Value, &acct); err != nil {
		return 0, fmt.Errorf("decode account %s: %w", addr, err)
	}
	return acct.Balance, nil
}

// settleOnLedger replays the mesh-signed settlement against the chain app:
// fund both accounts, open and fund the escrow, then submit the outcome with
// the signatures the peers already produced. The final signature releases
// the payouts.
func settleOnLedger(cfg config.Config, seats []*demoSeat, gameID string, signed []byte) error {
	var tx struct {
		Payload json.RawMessage   `json:"payload"`
		Sigs    map[string][]byte `json:"sigs"`
	}
	if err := json.Unmarshal(signed, &tx); err != nil {
		return fmt.Errorf("decode signed settlement: %w", err)
	}
	var payload struct {
		GameID  string                   `json:"gameId"`
		Outcome escrow.SettlementOutcome `json:"outcome"`
	}
	if err := json.Unmarshal(tx.Payload, &payload); err != nil {
		return fmt.Errorf("decode settlement payload: %w", err)
	}

	ledger, err := newDemoLedger()
	if err != nil {
		return err
	}
	defer ledger.close()

	members := make([]string, 0, len(seats))
	for _, s := range seats {
		members = append(members, s.key)
	}

	// Block 1: faucet plus key registration, one account per peer.
	var txs [][]byte
	for _, s := range seats {
		mint, err := chain.NewTx("bank/mint", chain.BankMintTx{To: s.key, Amount: 2 * demoBuyIn})
		if err != nil {
			return err
		}
		reg, err := ledger.signedTx("auth/register_key", chain.AuthRegisterKeyTx{
			Account: s.key,
			PubKey:  []byte(s.priv.Public().(ed25519.PublicKey)),
		}, s)
		if err != nil {
			return err
		}
		txs = append(txs, mint, reg)
	}
	if _, err := ledger.commit(txs...); err != nil {
		return err
	}

	// Block 2: open the escrow and stake both buy-ins.
	open, err := ledger.signedTx("escrow/open", chain.EscrowOpenTx{
		GameID:        gameID,
		Opener:        seats[0].key,
		BuyIn:         demoBuyIn,
		Members:       members,
		TimeoutBlocks: cfg.EscrowTimeoutBlocks,
	}, seats[0])
	if err != nil {
		return err
	}
	txs = [][]byte{open}
	for _, s := range seats {
		fund, err := ledger.signedTx("escrow/fund", chain.EscrowFundTx{
			GameID: gameID,
			Player: s.key,
			Amount: demoBuyIn,
		}, s)
		if err != nil {
			return err
		}
		txs = append(txs, fund)
	}
	if _, err := ledger.commit(txs...); err != nil {
		return err
	}
	pterm.Info.Printfln("escrow %s open and fully funded with %d chips", shortGame(gameID), 2*demoBuyIn)

	// Block 3: the outcome the peers signed, then their signatures. The
	// chain rebuilds the identical settlement payload from the outcome, so
	// the off-chain signatures verify against the registered keys.
	settle, err := ledger.signedTx("escrow/settle", chain.EscrowSettleTx{
		GameID:   gameID,
		Proposer: seats[0].key,
		Outcome:  payload.Outcome,
	}, seats[0])
	if err != nil {
		return err
	}
	txs = [][]byte{settle}
	for _, s := range seats {
		sig, ok := tx.Sigs[s.key]
		if !ok {
			return fmt.Errorf("settlement is missing %s's signature", s.name)
		}
		sign, err := ledger.signedTx("escrow/sign", chain.EscrowSignTx{
			GameID: gameID,
			Player: s.key,
			Sig:    sig,
		}, s)
		if err != nil {
			return err
		}
		txs = append(txs, sign)
	}
	results, err := ledger.commit(txs...)
	if err != nil {
		return err
	}

	txHash := ""
	for _, r := range results {
		for _, ev := range r.Events {
			if ev.Type != "EscrowSettled" {
				continue
			}
			for _, a := range ev.Attributes {
				if a.Key == "txHash" {
					txHash = a.Value
				}
			}
		}
	}
	if txHash == "" {
		return fmt.Errorf("ledger did not emit EscrowSettled")
	}
	pterm.Success.Printfln("escrow settled on-chain, tx %s", txHash[:16])

	lines := make([]string, 0, len(seats))
	for _, s := range seats {
		bal, err := ledger.balance(s.key)
		if err != nil {
			return err
		}
		lines = append(lines, pterm.Sprintfln("%s: %d chips", pterm.LightCyan(s.name), bal))
	}
	pterm.DefaultBox.
		WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1).
		WithTitle(pterm.LightGreen("final balances")).WithTitleTopCenter().
		Print(strings.Join(lines, ""))
	pterm.Println()
	return nil
}

func renderTable(seats []*demoSeat, gameID string, extra ...pterm.Panel) {
	row := make([]pterm.Panel, 0, len(seats))
	for _, s := range seats {
		row = append(row, seatPanel(s, gameID))
	}
	rows := [][]pterm.Panel{row, {boardPanel(seats[0].engine, gameID)}}
	if len(extra) > 0 {
		rows = append(rows, extra)
	}
	_ = pterm.DefaultPanel.WithPanels(rows).Render()
}

// seatPanel renders one seat from its OWN engine's view: hole cards exist
// nowhere else until the showdown reveals them.
func seatPanel(s *demoSeat, gameID string) pterm.Panel {
	var (
		stack, bet uint64
		state      string
		hole       []cards.Card
	)
	_ = s.engine.WithTable(gameID, func(t *game.Game) error {
		p := t.Player(s.key)
		if p == nil {
			return nil
		}
		stack, bet = p.Stack, p.CurrentBet
		state = p.State.String()
		hole = append(hole, p.HoleCards...)
		return nil
	})
	body := pterm.Sprintfln("stack %d  bet %d", stack, bet) +
		pterm.Sprintfln("state %s", state) +
		pterm.Sprintfln("hole  %s", cardList(hole))
	box := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	return pterm.Panel{Data: box.WithTitle(pterm.LightCyan(s.name)).WithTitleTopCenter().Sprint(body)}
}

func boardPanel(view *peer.Engine, gameID string) pterm.Panel {
	var (
		community []cards.Card
		pot       uint64
		phase     string
		hand      uint64
	)
	_ = view.WithTable(gameID, func(t *game.Game) error {
		community = t.Community()
		for _, p := range t.Pots() {
			pot += p.Amount
		}
		if r := t.Round(); r != nil {
			for _, pl := range t.Players() {
				pot += pl.CurrentBet
			}
		}
		phase = t.Phase().String()
		hand = t.HandNumber()
		return nil
	})
	body := pterm.Sprintfln("board %s", cardList(community)) +
		pterm.Sprintfln("pot   %d", pot) +
		pterm.Sprintfln("hand #%d, %s", hand, phase)
	box := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	return pterm.Panel{Data: box.WithTitle(pterm.LightYellow("board")).WithTitleTopCenter().Sprint(body)}
}

func winnerPanel(view *peer.Engine, seats []*demoSeat, gameID string) pterm.Panel {
	info := ""
	_ = view.WithTable(gameID, func(t *game.Game) error {
		res := t.Result()
		if res == nil {
			return nil
		}
		for _, w := range res.Wins {
			name := fmt.Sprintf("seat %d", w.Seat)
			if p := t.PlayerBySeat(w.Seat); p != nil {
				name = p.Name
			}
			if best, ok := res.Best[w.Seat]; ok && len(best) > 0 {
				info += pterm.Sprintfln("%s wins %d with %s (%s)",
					pterm.LightCyan(name), w.Amount, cards.Classify(best), cardList(best))
			} else {
				info += pterm.Sprintfln("%s wins %d, everyone else folded", pterm.LightCyan(name), w.Amount)
			}
		}
		return nil
	})
	if info == "" {
		info = pterm.Sprintfln("hand still running")
	}
	box := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	return pterm.Panel{Data: box.WithTitle(pterm.LightGreen("showdown")).WithTitleTopCenter().Sprint(info)}
}

func cardList(cs []cards.Card) string {
	if len(cs) == 0 {
		return "--"
	}
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.String()
	}
	return strings.Join(out, " ")
}

func shortGame(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
