package state

import (
	"bytes"
	"testing"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
)

func TestAppHash_StableAcrossMapOrder(t *testing.T) {
	s1 := NewState()
	s1.Height = 7
	s1.Accounts["bob"] = 2
	s1.Accounts["alice"] = 1
	s1.NonceMax["bob"] = 3

	s2 := NewState()
	s2.Height = 7
	s2.NonceMax["bob"] = 3
	s2.Accounts["alice"] = 1
	s2.Accounts["bob"] = 2

	h1 := s1.AppHash()
	h2 := s2.AppHash()
	if !bytes.Equal(h1, h2) {
		t.Fatalf("expected stable app hash; h1=%x h2=%x", h1, h2)
	}

	// Any semantic change should change the hash.
	s2.Accounts["alice"] = 9
	h3 := s2.AppHash()
	if bytes.Equal(h1, h3) {
		t.Fatalf("expected hash to change after state mutation")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	home := t.TempDir()

	s := NewState()
	s.Height = 12
	s.Accounts["alice"] = 500
	s.AccountKeys["alice"] = bytes.Repeat([]byte{7}, 32)
	s.NonceMax["alice"] = 4
	acc, err := escrow.Open("game-1", 100, []string{"alice", "bob"}, 10)
	if err != nil {
		t.Fatalf("open escrow: %v", err)
	}
	if err := acc.Fund("alice", 100); err != nil {
		t.Fatalf("fund: %v", err)
	}
	s.Escrows["game-1"] = acc

	if err := s.Save(home); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(s.AppHash(), got.AppHash()) {
		t.Fatalf("hash mismatch after round trip")
	}
	if got.Escrows["game-1"].Funded["alice"] != 100 {
		t.Fatalf("escrow funding lost in round trip")
	}
}

func TestLoadMissingFileIsFresh(t *testing.T) {
	s, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Height != 0 || len(s.Accounts) != 0 {
		t.Fatalf("expected fresh state, got height=%d accounts=%d", s.Height, len(s.Accounts))
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewState()
	s.Accounts["alice"] = 10

	c, err := s.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	c.Accounts["alice"] = 99
	c.Accounts["bob"] = 1

	if s.Accounts["alice"] != 10 {
		t.Fatalf("clone mutated original")
	}
	if _, ok := s.Accounts["bob"]; ok {
		t.Fatalf("clone shares map with original")
	}
}

func TestCreditDebit(t *testing.T) {
	s := NewState()
	if err := s.Credit("alice", 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := s.Debit("alice", 40); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got := s.Balance("alice"); got != 60 {
		t.Fatalf("balance = %d, want 60", got)
	}

	if err := s.Debit("alice", 61); err == nil {
		t.Fatalf("expected insufficient funds error")
	}

	s.Accounts["bob"] = ^uint64(0)
	if err := s.Credit("bob", 1); err == nil {
		t.Fatalf("expected overflow error")
	}
}
