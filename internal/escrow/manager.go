package escrow

import "fmt"

// Manager is a registry of escrow accounts keyed by game id. It does no
// locking of its own; the owning component serializes access.
type Manager struct {
	accounts map[string]*Account
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{accounts: map[string]*Account{}}
}

// Open creates and registers a new account. The game id must be unused.
func (m *Manager) Open(gameID string, buyIn uint64, members []string, height int64) (*Account, error) {
	if _, ok := m.accounts[gameID]; ok {
		return nil, fmt.Errorf("escrow: account %q already exists", gameID)
	}
	a, err := Open(gameID, buyIn, members, height)
	if err != nil {
		return nil, err
	}
	m.accounts[gameID] = a
	return a, nil
}

// Get looks up an account by game id.
func (m *Manager) Get(gameID string) (*Account, bool) {
	a, ok := m.accounts[gameID]
	return a, ok
}

// CheckTimeouts refunds every account whose timeout has unlocked at the
// given height and returns the ids swept.
func (m *Manager) CheckTimeouts(height int64) []string {
	var swept []string
	for id, a := range m.accounts {
		if !a.CanTriggerTimeout(height) {
			continue
		}
		if _, err := a.Timeout(height); err == nil {
			swept = append(swept, id)
		}
	}
	return swept
}
