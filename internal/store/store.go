// Package store archives finished hands and settlements in a local sqlite
// database. The archive is per-node and write-mostly: the engine records a
// row at each hand boundary and when a settlement confirms, and the CLI
// reads recent history back. Schema changes ride a schema_migrations table
// and apply on open.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/game"
)

var migrations = []struct {
	version string
	stmts   []string
}{
	{
		version: "0001_archive",
		stmts: []string{
			`CREATE TABLE hands (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				game_id TEXT NOT NULL,
				hand_number INTEGER NOT NULL,
				reason TEXT NOT NULL,
				result_json TEXT NOT NULL,
				recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (game_id, hand_number)
			)`,
			`CREATE TABLE actions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				hand_id INTEGER NOT NULL REFERENCES hands(id) ON DELETE CASCADE,
				seq INTEGER NOT NULL,
				seat INTEGER NOT NULL,
				action INTEGER NOT NULL,
				amount INTEGER NOT NULL,
				auto INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX idx_actions_hand ON actions(hand_id)`,
			`CREATE TABLE settlements (
				game_id TEXT PRIMARY KEY,
				game_hash TEXT NOT NULL,
				pot INTEGER NOT NULL,
				outcome_json TEXT NOT NULL,
				signed_tx BLOB NOT NULL,
				settled_at INTEGER NOT NULL,
				recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
		},
	},
}

// Store wraps the archive database. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive at path and brings the schema up to
// date. Path may be a plain file path, a file: DSN, or :memory:.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if plainFilePath(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir archive dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func dsn(path string) string {
	// _foreign_keys keeps action rows tied to their hand; _busy_timeout
	// absorbs SQLITE_BUSY when the CLI reads while the engine writes.
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
}

func plainFilePath(path string) bool {
	return path != ":memory:" && !strings.HasPrefix(path, "file:")
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}
	applied := map[string]bool{}
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("store: list applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("store: iterate migration versions: %w", err)
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin migration %s: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("store: apply migration %s: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %s: %w", m.version, err)
		}
	}
	return nil
}

// RecordHand archives one finished hand and its action history. Recording
// the same hand twice is an error; the caller logs and moves on.
func (s *Store) RecordHand(gameID string, result *game.HandResult, history []game.ActionRecord) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("store: encode hand result: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin hand record: %w", err)
	}
	res, err := tx.Exec(
		`INSERT INTO hands (game_id, hand_number, reason, result_json) VALUES (?, ?, ?, ?)`,
		gameID, result.HandNumber, result.Reason, string(resultJSON),
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store: insert hand: %w", err)
	}
	handID, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store: hand row id: %w", err)
	}
	for i, rec := range history {
		// Actions archive as their wire-stable codes; record-only entries
		// like blinds have no parseable text form.
		if _, err := tx.Exec(
			`INSERT INTO actions (hand_id, seq, seat, action, amount, auto) VALUES (?, ?, ?, ?, ?, ?)`,
			handID, i, rec.Seat, uint8(rec.Action), rec.Amount, rec.Auto,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: insert action %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit hand record: %w", err)
	}
	return nil
}

// RecordSettlement archives the confirmed settlement for a game together
// with the fully signed transaction that went to the chain.
func (s *Store) RecordSettlement(gameID string, outcome *escrow.SettlementOutcome, signedTx []byte) error {
	pot, err := outcome.Total()
	if err != nil {
		return fmt.Errorf("store: settlement pot: %w", err)
	}
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("store: encode settlement outcome: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO settlements (game_id, game_hash, pot, outcome_json, signed_tx, settled_at) VALUES (?, ?, ?, ?, ?, ?)`,
		gameID, outcome.GameHash, pot, string(outcomeJSON), signedTx, outcome.Timestamp,
	); err != nil {
		return fmt.Errorf("store: insert settlement: %w", err)
	}
	return nil
}

// ArchivedHand is one row of hand history read back from the archive.
type ArchivedHand struct {
	GameID     string
	HandNumber uint64
	Reason     string
	Result     *game.HandResult
	RecordedAt time.Time
}

// RecentHands returns up to limit hands, newest first.
func (s *Store) RecentHands(limit int) ([]ArchivedHand, error) {
	rows, err := s.db.Query(
		`SELECT game_id, hand_number, reason, result_json, recorded_at
		 FROM hands ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query hands: %w", err)
	}
	defer rows.Close()

	var hands []ArchivedHand
	for rows.Next() {
		var (
			h          ArchivedHand
			resultJSON string
		)
		if err := rows.Scan(&h.GameID, &h.HandNumber, &h.Reason, &resultJSON, &h.RecordedAt); err != nil {
			return nil, fmt.Errorf("store: scan hand: %w", err)
		}
		h.Result = &game.HandResult{}
		if err := json.Unmarshal([]byte(resultJSON), h.Result); err != nil {
			return nil, fmt.Errorf("store: decode hand result: %w", err)
		}
		hands = append(hands, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate hands: %w", err)
	}
	return hands, nil
}

// Actions returns the recorded history of one hand in play order.
func (s *Store) Actions(gameID string, handNumber uint64) ([]game.ActionRecord, error) {
	rows, err := s.db.Query(
		`SELECT a.seat, a.action, a.amount, a.auto
		 FROM actions a JOIN hands h ON h.id = a.hand_id
		 WHERE h.game_id = ? AND h.hand_number = ?
		 ORDER BY a.seq ASC`, gameID, handNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query actions: %w", err)
	}
	defer rows.Close()

	var history []game.ActionRecord
	for rows.Next() {
		var (
			rec    game.ActionRecord
			action int64
		)
		if err := rows.Scan(&rec.Seat, &action, &rec.Amount, &rec.Auto); err != nil {
			return nil, fmt.Errorf("store: scan action: %w", err)
		}
		rec.HandNumber = handNumber
		rec.Action = game.Action(action)
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate actions: %w", err)
	}
	return history, nil
}

// ArchivedSettlement is the stored settlement for one game.
type ArchivedSettlement struct {
	GameID   string
	Outcome  *escrow.SettlementOutcome
	SignedTx []byte
}

// Settlement returns the archived settlement for gameID, or sql.ErrNoRows
// wrapped if none was recorded.
func (s *Store) Settlement(gameID string) (*ArchivedSettlement, error) {
	var (
		out         = ArchivedSettlement{GameID: gameID}
		outcomeJSON string
	)
	err := s.db.QueryRow(
		`SELECT outcome_json, signed_tx FROM settlements WHERE game_id = ?`, gameID,
	).Scan(&outcomeJSON, &out.SignedTx)
	if err != nil {
		return nil, fmt.Errorf("store: settlement for %s: %w", gameID, err)
	}
	out.Outcome = &escrow.SettlementOutcome{}
	if err := json.Unmarshal([]byte(outcomeJSON), out.Outcome); err != nil {
		return nil, fmt.Errorf("store: decode settlement outcome: %w", err)
	}
	return &out, nil
}
