package exchange

import (
	"fmt"
	"strings"
)

// Escrow receipt statuses.
const (
	StatusEscrowed  = "escrowed"
	StatusReleased  = "released"
	StatusCancelled = "cancelled"
)

// EscrowReceipt records funds locked for a task. Status starts at
// StatusEscrowed and is flipped by the session ledger when a later release or
// cancel succeeds for the same escrow id.
type EscrowReceipt struct {
	EscrowID     string  `json:"escrow_id"`
	TaskID       string  `json:"task_id"`
	PayerAddress string  `json:"payer_address"`
	PayeeAddress string  `json:"payee_address"`
	Amount       float64 `json:"amount"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
}

// SettlementResult records a finalized release or cancel. Immutable.
type SettlementResult struct {
	EscrowID  string `json:"escrow_id"`
	Status    string `json:"status"`
	TxHash    string `json:"tx_hash"`
	SettledAt string `json:"settled_at"`
}

// BatchSettlementResult aggregates a ReleaseAll run.
type BatchSettlementResult struct {
	Released []SettlementResult
	Failed   map[string]error
}

// Transaction is one entry of an account's history.
type Transaction struct {
	ID        string  `json:"id"`
	EscrowID  string  `json:"escrow_id,omitempty"`
	Amount    float64 `json:"amount"`
	Kind      string  `json:"kind,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// EscrowStatus is the read-only state of one escrow on the exchange.
type EscrowStatus struct {
	EscrowID string  `json:"escrow_id"`
	Status   string  `json:"status"`
	Amount   float64 `json:"amount"`
	TaskID   string  `json:"task_id,omitempty"`
}

// SessionSummary is a derived, read-only aggregate over one client's ledger.
// The slices are snapshots; mutating them does not affect the client.
type SessionSummary struct {
	Receipts       []EscrowReceipt
	Results        []SettlementResult
	TotalEscrowed  float64
	TotalReleased  float64
	TotalCancelled float64
	CancelledCount int
}

// String renders the settlement block attached to session output.
func (s SessionSummary) String() string {
	var b strings.Builder
	b.WriteString("=== A2A-SE Settlement Summary ===\n")
	fmt.Fprintf(&b, "  Escrow operations : %d\n", len(s.Receipts))
	fmt.Fprintf(&b, "  Total escrowed    : %.4f tokens\n", s.TotalEscrowed)
	fmt.Fprintf(&b, "  Total released    : %.4f tokens\n", s.TotalReleased)
	fmt.Fprintf(&b, "  Total cancelled   : %.4f tokens\n", s.TotalCancelled)
	fmt.Fprintf(&b, "  Cancelled tasks   : %d", s.CancelledCount)
	if len(s.Receipts) > 0 {
		b.WriteString("\n\n  Per-task breakdown:")
		for _, r := range s.Receipts {
			status := "pending"
			for _, res := range s.Results {
				if res.EscrowID == r.EscrowID {
					status = res.Status
					break
				}
			}
			fmt.Fprintf(&b, "\n    task=%s amount=%.4f status=%s", truncateID(r.TaskID), r.Amount, status)
		}
	}
	return b.String()
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
