// Package sandbox is an in-memory A2A Settlement Exchange used by the local
// sandbox server and the integration tests. It implements the /v1 surface the
// exchange client speaks: registration, escrow with idempotency replay,
// release, cancel, status, balance, and history.
package sandbox

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FaucetBalance is credited to every newly registered sandbox agent.
const FaucetBalance = 1000.0

var (
	ErrEscrowNotFound = errors.New("escrow not found")
	ErrAlreadySettled = errors.New("escrow already settled")
	ErrInsufficient   = errors.New("insufficient balance")
)

// ValidationError reports a rejected request field.
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return e.Reason }

type Agent struct {
	AgentID       string    `json:"agent_id"`
	WalletAddress string    `json:"wallet_address"`
	Name          string    `json:"name"`
	Capabilities  []string  `json:"capabilities"`
	CreatedAt     time.Time `json:"created_at"`
}

type Escrow struct {
	EscrowID       string    `json:"escrow_id"`
	TaskID         string    `json:"task_id"`
	PayerAddress   string    `json:"payer_address"`
	PayeeAddress   string    `json:"payee_address"`
	Amount         float64   `json:"amount"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"-"`
	Reason         string    `json:"reason,omitempty"`
	TxHash         string    `json:"tx_hash,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	SettledAt      time.Time `json:"settled_at"`
}

type Transaction struct {
	ID        string    `json:"id"`
	EscrowID  string    `json:"escrow_id,omitempty"`
	Amount    float64   `json:"amount"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Exchange holds all sandbox state behind one mutex. Handlers call the typed
// operations; nothing touches the maps directly.
type Exchange struct {
	mu       sync.Mutex
	agents   map[string]Agent  // wallet -> agent
	escrows  map[string]*Escrow
	byKey    map[string]string // idempotency key -> escrow id
	balances map[string]float64
	history  map[string][]Transaction

	now func() time.Time
}

type Option func(*Exchange)

// WithClock fixes the sandbox clock; tests use this for stable timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

func New(opts ...Option) *Exchange {
	e := &Exchange{
		agents:   map[string]Agent{},
		escrows:  map[string]*Escrow{},
		byKey:    map[string]string{},
		balances: map[string]float64{},
		history:  map[string][]Transaction{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Credit adds tokens to a wallet outside the registration faucet. Tests and
// the sandbox server use it to seed payer accounts.
func (e *Exchange) Credit(wallet string, amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[wallet] += amount
}

// RegisterAgent creates a wallet for the agent and credits the faucet amount.
func (e *Exchange) RegisterAgent(name string, capabilities []string) Agent {
	e.mu.Lock()
	defer e.mu.Unlock()

	agent := Agent{
		AgentID:       "agt_" + uuid.NewString(),
		WalletAddress: "0x" + randomHex(20),
		Name:          name,
		Capabilities:  capabilities,
		CreatedAt:     e.now().UTC(),
	}
	e.agents[agent.WalletAddress] = agent
	e.balances[agent.WalletAddress] = FaucetBalance
	e.record(agent.WalletAddress, Transaction{
		ID: "tx_" + uuid.NewString(), Amount: FaucetBalance, Kind: "faucet", Timestamp: agent.CreatedAt,
	})
	return agent
}

// CreateEscrow locks amount from the payer. A repeated idempotency key does
// not lock funds twice; the caller is told which escrow already holds them
// via DuplicateError.
func (e *Exchange) CreateEscrow(payer, payee string, amount float64, taskID, description, idemKey string) (*Escrow, error) {
	if payer == "" || payee == "" {
		return nil, &ValidationError{Reason: "payer_address and payee_address are required"}
	}
	if amount <= 0 {
		return nil, &ValidationError{Reason: fmt.Sprintf("amount must be positive; got %v", amount)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if idemKey != "" {
		if id, seen := e.byKey[idemKey]; seen {
			return e.escrows[id], &DuplicateError{EscrowID: id}
		}
	}
	if e.balances[payer] < amount {
		return nil, ErrInsufficient
	}

	now := e.now().UTC()
	esc := &Escrow{
		EscrowID:       "esc_" + uuid.NewString(),
		TaskID:         taskID,
		PayerAddress:   payer,
		PayeeAddress:   payee,
		Amount:         amount,
		Status:         "escrowed",
		IdempotencyKey: idemKey,
		Reason:         description,
		CreatedAt:      now,
	}
	e.balances[payer] -= amount
	e.escrows[esc.EscrowID] = esc
	if idemKey != "" {
		e.byKey[idemKey] = esc.EscrowID
	}
	e.record(payer, Transaction{
		ID: "tx_" + uuid.NewString(), EscrowID: esc.EscrowID, Amount: -amount, Kind: "escrow_lock", Timestamp: now,
	})
	return esc, nil
}

// DuplicateError marks an idempotency key replay; EscrowID is the escrow the
// earlier request created.
type DuplicateError struct{ EscrowID string }

func (e *DuplicateError) Error() string {
	return "duplicate idempotency key; existing escrow " + e.EscrowID
}

// Release moves escrowed funds to the payee and finalizes the escrow.
func (e *Exchange) Release(escrowID string) (*Escrow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	esc, ok := e.escrows[escrowID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if esc.Status != "escrowed" {
		return nil, ErrAlreadySettled
	}
	now := e.now().UTC()
	esc.Status = "released"
	esc.TxHash = "0x" + randomHex(32)
	esc.SettledAt = now
	e.balances[esc.PayeeAddress] += esc.Amount
	e.record(esc.PayeeAddress, Transaction{
		ID: "tx_" + uuid.NewString(), EscrowID: esc.EscrowID, Amount: esc.Amount, Kind: "escrow_release", Timestamp: now,
	})
	return esc, nil
}

// Cancel refunds escrowed funds to the payer and finalizes the escrow.
func (e *Exchange) Cancel(escrowID, reason string) (*Escrow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	esc, ok := e.escrows[escrowID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if esc.Status != "escrowed" {
		return nil, ErrAlreadySettled
	}
	now := e.now().UTC()
	esc.Status = "cancelled"
	esc.TxHash = "0x" + randomHex(32)
	esc.SettledAt = now
	if reason != "" {
		esc.Reason = reason
	}
	e.balances[esc.PayerAddress] += esc.Amount
	e.record(esc.PayerAddress, Transaction{
		ID: "tx_" + uuid.NewString(), EscrowID: esc.EscrowID, Amount: esc.Amount, Kind: "escrow_refund", Timestamp: now,
	})
	return esc, nil
}

// Get returns a copy of the escrow's current state.
func (e *Exchange) Get(escrowID string) (Escrow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	esc, ok := e.escrows[escrowID]
	if !ok {
		return Escrow{}, ErrEscrowNotFound
	}
	return *esc, nil
}

// Balance returns the available (non-escrowed) balance for a wallet.
func (e *Exchange) Balance(wallet string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[wallet]
}

// History returns the wallet's transactions, newest page first by offset.
func (e *Exchange) History(wallet string, limit, offset int) []Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	txs := e.history[wallet]
	if offset >= len(txs) {
		return []Transaction{}
	}
	txs = txs[offset:]
	if limit > 0 && limit < len(txs) {
		txs = txs[:limit]
	}
	return append([]Transaction(nil), txs...)
}

func (e *Exchange) record(wallet string, tx Transaction) {
	e.history[wallet] = append(e.history[wallet], tx)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
