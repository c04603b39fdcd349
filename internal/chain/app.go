// Package chain is the settlement ledger node: a minimal ABCI application
// over the JSON ledger state. It carries account balances and escrow
// accounts; games themselves run off-chain between peers, and only funding,
// settlement, and refunds land here.
package chain

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/state"
)

const AppVersion uint64 = 1

type App struct {
	*abci.BaseApplication

	home string

	mu       sync.Mutex
	st       *state.State
	lastHash []byte
}

func New(home string) (*App, error) {
	appHome := filepath.Join(home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	a := &App{
		BaseApplication: abci.NewBaseApplication(),
		home:            home,
		st:              st,
		lastHash:        st.AppHash(),
	}
	return a, nil
}

func (a *App) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "coral (v0)",
		Version:          "v0",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *App) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	_, err := DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: 1, Log: err.Error()}, nil
	}
	// Structural validation only; auth runs at delivery against committed state.
	return &abci.CheckTxResponse{Code: 0}, nil
}

func (a *App) InitChain(_ context.Context, _ *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	return &abci.InitChainResponse{}, nil
}

func (a *App) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *App) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		// CometBFT expects Commit not to crash; return the error so the
		// node halts loudly.
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}

func (a *App) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Paths:
	// - /account/<addr>
	// - /escrow/<gameId>
	// - /escrows
	path := strings.TrimSpace(req.Path)
	switch {
	case path == "/escrows":
		ids := make([]string, 0, len(a.st.Escrows))
		for id := range a.st.Escrows {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b, _ := json.Marshal(ids)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/account/"):
		addr := strings.TrimPrefix(path, "/account/")
		bal := a.st.Balance(addr)
		b, _ := json.Marshal(map[string]any{"addr": addr, "balance": bal})
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/escrow/"):
		id := strings.TrimPrefix(path, "/escrow/")
		acc, ok := a.st.Escrows[id]
		if !ok {
			return &abci.QueryResponse{Code: 1, Log: "escrow not found", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(acc)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	default:
		return &abci.QueryResponse{Code: 1, Log: "unknown query path", Height: a.st.Height}, nil
	}
}

// authedTx runs account auth plus nonce validation for a spending tx. It
// mutates nothing; on failure it returns a coded result to hand back as-is.
func (a *App) authedTx(env TxEnvelope, account string) (uint64, *abci.ExecTxResult) {
	if err := requireAccountAuth(a.st, env, account); err != nil {
		return 0, &abci.ExecTxResult{Code: 2, Log: err.Error()}
	}
	n, err := checkNonce(a.st, env)
	if err != nil {
		return 0, &abci.ExecTxResult{Code: 2, Log: err.Error()}
	}
	return n, nil
}

func (a *App) deliverTx(txBytes []byte, height int64) *abci.ExecTxResult {
	env, err := DecodeTxEnvelope(txBytes)
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}

	switch env.Type {
	case "bank/mint":
		// Devnet faucet: unauthenticated by design for v0.
		var msg BankMintTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad bank/mint value"}
		}
		if msg.To == "" || msg.Amount == 0 {
			return &abci.ExecTxResult{Code: 1, Log: "missing to/amount"}
		}
		if err := a.st.Credit(msg.To, msg.Amount); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		return okEvent("BankMinted", map[string]string{
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "bank/send":
		var msg BankSendTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad bank/send value"}
		}
		if msg.From == "" || msg.To == "" || msg.Amount == 0 {
			return &abci.ExecTxResult{Code: 1, Log: "missing from/to/amount"}
		}
		nonce, errRes := a.authedTx(env, msg.From)
		if errRes != nil {
			return errRes
		}
		if err := a.st.Debit(msg.From, msg.Amount); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		if err := a.st.Credit(msg.To, msg.Amount); err != nil {
			// Undo the debit so a failed credit leaves balances untouched.
			_ = a.st.Credit(msg.From, msg.Amount)
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		bumpNonce(a.st, env.Signer, nonce)
		return okEvent("BankSent", map[string]string{
			"from":   msg.From,
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "auth/register_key":
		var msg AuthRegisterKeyTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad auth/register_key value"}
		}
		if err := requireRegisterKeyAuth(env, msg); err != nil {
			return &abci.ExecTxResult{Code: 2, Log: err.Error()}
		}
		nonce, err := checkNonce(a.st, env)
		if err != nil {
			return &abci.ExecTxResult{Code: 2, Log: err.Error()}
		}
		if existing, ok := a.st.AccountKeys[msg.Account]; ok {
			if !ed25519.PublicKey(existing).Equal(ed25519.PublicKey(msg.PubKey)) {
				return &abci.ExecTxResult{Code: 1, Log: "account key already registered"}
			}
		}
		a.st.AccountKeys[msg.Account] = append([]byte(nil), msg.PubKey...)
		bumpNonce(a.st, env.Signer, nonce)
		return okEvent("KeyRegistered", map[string]string{
			"account": msg.Account,
			"pubKey":  hex.EncodeToString(msg.PubKey),
		})

	case "escrow/open":
		var msg EscrowOpenTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad escrow/open value"}
		}
		nonce, errRes := a.authedTx(env, msg.Opener)
		if errRes != nil {
			return errRes
		}
		if _, ok := a.st.Escrows[msg.GameID]; ok {
			return &abci.ExecTxResult{Code: 1, Log: "escrow already exists"}
		}
		acc, err := escrow.Open(msg.GameID, msg.BuyIn, msg.Members, height)
		if err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		if !acc.IsMember(msg.Opener) {
			return &abci.ExecTxResult{Code: 1, Log: "opener is not a member"}
		}
		if msg.TimeoutBlocks > 0 {
			acc.TimeoutBlocks = msg.TimeoutBlocks
		}
		a.st.Escrows[msg.GameID] = acc
		bumpNonce(a.st, env.Signer, nonce)
		return okEvent("EscrowOpened", map[string]string{
			"gameId":  msg.GameID,
			"buyIn":   fmt.Sprintf("%d", msg.BuyIn),
			"members": fmt.Sprintf("%d", len(msg.Members)),
		})

	case "escrow/fund":
		var msg EscrowFundTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad escrow/fund value"}
		}
		nonce, errRes := a.authedTx(env, msg.Player)
		if errRes != nil {
			return errRes
		}
		acc, ok := a.st.Escrows[msg.GameID]
		if !ok {
			return &abci.ExecTxResult{Code: 1, Log: "escrow not found"}
		}
		// Balance check precedes Fund so a failed debit cannot strand a
		// recorded stake.
		if a.st.Balance(msg.Player) < msg.Amount {
			return &abci.ExecTxResult{Code: 1, Log: "insufficient funds for stake"}
		}
		if err := acc.Fund(msg.Player, msg.Amount); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		if err := a.st.Debit(msg.Player, msg.Amount); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		bumpNonce(a.st, env.Signer, nonce)
		return okEvent("EscrowFunded", map[string]string{
			"gameId": msg.GameID,
			"player": msg.Player,
			"amount": fmt.Sprintf("%d", msg.Amount),
			"funded": fmt.Sprintf("%t", acc.IsFullyFunded()),
		})

	case "escrow/settle":
		var msg EscrowSettleTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad escrow/settle value"}
		}
		nonce, errRes := a.authedTx(env, msg.Proposer)
		if errRes != nil {
			return errRes
		}
		acc, ok := a.st.Escrows[msg.GameID]
		if !ok {
			return &abci.ExecTxResult{Code: 1, Log: "escrow not found"}
		}
		if !acc.IsMember(msg.Proposer) {
			return &abci.ExecTxResult{Code: 1, Log: "proposer is not a member"}
		}
		if err := acc.CreateSettlementTransaction(msg.Outcome); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		bumpNonce(a.st, env.Signer, nonce)
		total, _ := msg.Outcome.Total()
		return okEvent("EscrowSettleProposed", map[string]string{
			"gameId": msg.GameID,
			"total":  fmt.Sprintf("%d", total),
		})

	case "escrow/sign":
		var msg EscrowSignTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad escrow/sign value"}
		}
		nonce, errRes := a.authedTx(env, msg.Player)
		if errRes != nil {
			return errRes
		}
		acc, ok := a.st.Escrows[msg.GameID]
		if !ok {
			return &abci.ExecTxResult{Code: 1, Log: "escrow not found"}
		}
		signBytes, err := acc.SettlementSignBytes()
		if err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		pub := a.st.AccountKeys[msg.Player]
		if !ed25519.Verify(ed25519.PublicKey(pub), signBytes, msg.Sig) {
			return &abci.ExecTxResult{Code: 2, Log: "invalid settlement signature"}
		}
		completes := acc.Status == escrow.StatusSettling && len(acc.Sigs)+1 == len(acc.Members)
		if completes {
			// The final signature releases the payouts; make sure the
			// credits cannot fail before any state changes.
			if err := checkPayoutCredits(a.st, acc.Outcome.Payouts); err != nil {
				return &abci.ExecTxResult{Code: 1, Log: err.Error()}
			}
		}
		if err := acc.AddSettlementSignature(msg.Player, msg.Sig); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		attrs := map[string]string{
			"gameId": msg.GameID,
			"player": msg.Player,
			"signed": fmt.Sprintf("%d/%d", len(acc.Sigs), len(acc.Members)),
		}
		if !completes {
			bumpNonce(a.st, env.Signer, nonce)
			return okEvent("EscrowSigned", attrs)
		}
		signedTx, err := acc.GetSignedSettlementTransaction()
		if err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		for _, p := range acc.Outcome.Payouts {
			_ = a.st.Credit(p.PlayerKey, p.Amount)
		}
		bumpNonce(a.st, env.Signer, nonce)
		txHash := sha256.Sum256(signedTx)
		attrs["txHash"] = hex.EncodeToString(txHash[:])
		return okEvent("EscrowSettled", attrs)

	case "escrow/timeout":
		var msg EscrowTimeoutTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad escrow/timeout value"}
		}
		acc, ok := a.st.Escrows[msg.GameID]
		if !ok {
			return &abci.ExecTxResult{Code: 1, Log: "escrow not found"}
		}
		if !acc.CanTriggerTimeout(height) {
			return &abci.ExecTxResult{Code: 1, Log: "timeout not reached"}
		}
		if err := checkRefundCredits(a.st, acc.Funded); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		refunds, err := acc.Timeout(height)
		if err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		players := make([]string, 0, len(refunds))
		for p := range refunds {
			players = append(players, p)
		}
		sort.Strings(players)
		for _, p := range players {
			_ = a.st.Credit(p, refunds[p])
		}
		return okEvent("EscrowRefunded", map[string]string{
			"gameId":   msg.GameID,
			"refunded": fmt.Sprintf("%d", len(refunds)),
		})

	default:
		return &abci.ExecTxResult{Code: 1, Log: fmt.Sprintf("unknown tx type: %q", env.Type)}
	}
}

// checkPayoutCredits verifies that applying every payout cannot overflow a
// balance. It mutates nothing.
func checkPayoutCredits(st *state.State, payouts []escrow.PlayerPayout) error {
	sim := map[string]uint64{}
	for _, p := range payouts {
		bal, ok := sim[p.PlayerKey]
		if !ok {
			bal = st.Balance(p.PlayerKey)
		}
		if bal > ^uint64(0)-p.Amount {
			return fmt.Errorf("payout overflows balance of %q", p.PlayerKey)
		}
		sim[p.PlayerKey] = bal + p.Amount
	}
	return nil
}

// checkRefundCredits is checkPayoutCredits for the timeout refund map.
func checkRefundCredits(st *state.State, refunds map[string]uint64) error {
	for player, amt := range refunds {
		if bal := st.Balance(player); bal > ^uint64(0)-amt {
			return fmt.Errorf("refund overflows balance of %q", player)
		}
	}
	return nil
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return &abci.ExecTxResult{
		Code:   0,
		Events: []abci.Event{ev},
	}
}
