package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInsufficientFunds is returned by MemoryTreasury when a balance would go negative.
var ErrInsufficientFunds = errors.New("treasury: insufficient funds")

// Transfer is one movement recorded by MemoryTreasury.
type Transfer struct {
	Token  string `json:"token"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// MemoryTreasury is an in-process Treasury holding per-token balances.
// It backs vaultd's lite mode and the engine tests.
type MemoryTreasury struct {
	mu        sync.Mutex
	balances  map[string]int64
	transfers []Transfer
}

// NewMemoryTreasury creates an empty treasury.
func NewMemoryTreasury() *MemoryTreasury {
	return &MemoryTreasury{balances: make(map[string]int64)}
}

// Deposit credits the vault with amount of token.
func (m *MemoryTreasury) Deposit(token string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[token] += amount
}

func (m *MemoryTreasury) Balance(_ context.Context, token string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[token], nil
}

func (m *MemoryTreasury) Transfer(_ context.Context, token, to string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount <= 0 {
		return fmt.Errorf("treasury: non-positive transfer %d", amount)
	}
	if m.balances[token] < amount {
		return fmt.Errorf("%w: %s balance %d < %d", ErrInsufficientFunds, token, m.balances[token], amount)
	}
	m.balances[token] -= amount
	m.transfers = append(m.transfers, Transfer{Token: token, From: "vault", To: to, Amount: amount})
	return nil
}

func (m *MemoryTreasury) Escrow(_ context.Context, token, from string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[token] += amount
	m.transfers = append(m.transfers, Transfer{Token: token, From: from, To: "vault", Amount: amount})
	return nil
}

// Transfers returns a copy of every recorded movement.
func (m *MemoryTreasury) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}
