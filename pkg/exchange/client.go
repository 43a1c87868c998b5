// Package exchange is the typed HTTP gateway to the A2A Settlement Exchange.
// It registers agents, locks and settles escrows, retries transient failures,
// and keeps a per-session ledger of receipts and settlement results. One
// shared instance per process; see Initialize, Instance, and Reset.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/a2a-settlement/a2ase/pkg/config"
)

var tracer = otel.Tracer("github.com/a2a-settlement/a2ase/pkg/exchange")

const clientVersion = "a2ase-go/0.1.0"

// RetryConfig bounds the retry loop for transient failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Client is the stateful exchange gateway. The session ledger (receipts and
// results) is guarded by a mutex so concurrent settlement calls never drop
// entries.
type Client struct {
	cfg     *config.Config
	baseURL string
	http    *http.Client
	retry   RetryConfig

	mu       sync.Mutex
	receipts []EscrowReceipt
	results  []SettlementResult
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient injects the underlying transport; tests point this at an
// httptest server.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// NewClient builds a client from cfg. Fails with an auth-kind error when no
// API key is configured.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &Error{
			Kind:    KindAuth,
			Op:      "initialize",
			Message: "A2ASE_API_KEY is not set; export it or set Config.APIKey",
		}
	}
	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.ExchangeURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout()},
		retry:   RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = time.Second
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 30 * time.Second
	}
	log.Printf("exchange client initialized: exchange=%s network=%s", c.baseURL, cfg.Network)
	return c, nil
}

// Close releases held connection resources.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// RegisterAgent registers an agent with the exchange and returns its assigned
// wallet address.
func (c *Client) RegisterAgent(ctx context.Context, name string, capabilities []string, metadata map[string]any) (string, error) {
	ctx, span := tracer.Start(ctx, "exchange.register_agent")
	defer span.End()

	if metadata == nil {
		metadata = map[string]any{}
	}
	if capabilities == nil {
		capabilities = []string{}
	}
	payload := map[string]any{
		"name":         name,
		"capabilities": capabilities,
		"metadata":     metadata,
		"network":      c.cfg.Network,
	}
	data, err := c.do(ctx, "register_agent", http.MethodPost, "/v1/agents/register", payload, KindRegistration)
	if err != nil {
		return "", err
	}
	wallet := str(data, "wallet_address")
	if wallet == "" {
		return "", &Error{Kind: KindRegistration, Op: "register_agent", Message: fmt.Sprintf("exchange response for agent %q lacks wallet_address", name)}
	}
	span.SetAttributes(attribute.String("exchange.wallet", wallet))
	log.Printf("agent registered: name=%s wallet=%s", name, wallet)
	return wallet, nil
}

// EscrowParams describes one escrow creation. IdempotencyKey defaults to
// "task-<TaskID>" so retrying the same logical task is safe; the exchange
// deduplicates by this key.
type EscrowParams struct {
	Payer          string
	Payee          string
	Amount         float64
	TaskID         string
	Description    string
	IdempotencyKey string
}

// Escrow locks Amount tokens from payer into escrow, earmarked for payee.
// Success appends the receipt to the session ledger.
//
// A 409 from the exchange is an idempotency collision: the escrow already
// exists. When the collision response carries the existing escrow_id the
// receipt is built from it (and appended only if the ledger does not already
// hold that escrow); otherwise a typed escrow error with code
// "idempotency_conflict" is returned instead of guessing.
func (c *Client) Escrow(ctx context.Context, p EscrowParams) (*EscrowReceipt, error) {
	ctx, span := tracer.Start(ctx, "exchange.escrow")
	defer span.End()

	key := p.IdempotencyKey
	if key == "" {
		key = "task-" + p.TaskID
	}
	payload := map[string]any{
		"payer_address":   p.Payer,
		"payee_address":   p.Payee,
		"amount":          p.Amount,
		"task_id":         p.TaskID,
		"description":     p.Description,
		"idempotency_key": key,
		"network":         c.cfg.Network,
	}
	data, err := c.do(ctx, "escrow", http.MethodPost, "/v1/escrow", payload, KindEscrow)
	if err != nil {
		return nil, err
	}
	escrowID := str(data, "escrow_id")
	if escrowID == "" {
		return nil, &Error{
			Kind:    KindEscrow,
			Op:      "escrow",
			Code:    "idempotency_conflict",
			Message: fmt.Sprintf("duplicate escrow for task %s and the exchange returned no escrow_id; look up the existing escrow before retrying", p.TaskID),
		}
	}
	receipt := EscrowReceipt{
		EscrowID:     escrowID,
		TaskID:       p.TaskID,
		PayerAddress: p.Payer,
		PayeeAddress: p.Payee,
		Amount:       p.Amount,
		Status:       StatusEscrowed,
		CreatedAt:    str(data, "created_at"),
	}
	c.appendReceipt(receipt)
	span.SetAttributes(
		attribute.String("exchange.escrow_id", escrowID),
		attribute.Float64("exchange.amount", p.Amount),
	)
	log.Printf("escrow created: id=%s task=%s amount=%.4f", escrowID, p.TaskID, p.Amount)
	return &receipt, nil
}

// Release transfers escrowed funds to the payee. Call on task success.
func (c *Client) Release(ctx context.Context, escrowID string) (*SettlementResult, error) {
	ctx, span := tracer.Start(ctx, "exchange.release")
	defer span.End()

	path := "/v1/escrow/" + url.PathEscape(escrowID) + "/release"
	data, err := c.do(ctx, "release", http.MethodPost, path, nil, KindRelease)
	if err != nil {
		return nil, err
	}
	result := SettlementResult{
		EscrowID:  escrowID,
		Status:    StatusReleased,
		TxHash:    str(data, "tx_hash"),
		SettledAt: str(data, "settled_at"),
	}
	c.appendResult(result)
	span.SetAttributes(attribute.String("exchange.escrow_id", escrowID))
	log.Printf("escrow released: id=%s tx=%s", escrowID, result.TxHash)
	return &result, nil
}

// Cancel returns escrowed funds to the payer. Call on task failure. The
// reason is advisory; the exchange logs it in its audit trail.
func (c *Client) Cancel(ctx context.Context, escrowID, reason string) (*SettlementResult, error) {
	ctx, span := tracer.Start(ctx, "exchange.cancel")
	defer span.End()

	var payload map[string]any
	if reason != "" {
		payload = map[string]any{"reason": reason}
	} else {
		payload = map[string]any{}
	}
	path := "/v1/escrow/" + url.PathEscape(escrowID) + "/cancel"
	data, err := c.do(ctx, "cancel", http.MethodPost, path, payload, KindRelease)
	if err != nil {
		return nil, err
	}
	result := SettlementResult{
		EscrowID:  escrowID,
		Status:    StatusCancelled,
		TxHash:    str(data, "tx_hash"),
		SettledAt: str(data, "settled_at"),
	}
	c.appendResult(result)
	span.SetAttributes(attribute.String("exchange.escrow_id", escrowID))
	log.Printf("escrow cancelled: id=%s reason=%s", escrowID, orNone(reason))
	return &result, nil
}

// ReleaseAll releases every receipt in the ledger still in escrowed state.
// Failures do not stop the sweep; they are collected per escrow id.
func (c *Client) ReleaseAll(ctx context.Context) BatchSettlementResult {
	c.mu.Lock()
	var pending []string
	for _, r := range c.receipts {
		if r.Status == StatusEscrowed {
			pending = append(pending, r.EscrowID)
		}
	}
	c.mu.Unlock()

	out := BatchSettlementResult{Failed: map[string]error{}}
	for _, id := range pending {
		result, err := c.Release(ctx, id)
		if err != nil {
			out.Failed[id] = err
			continue
		}
		out.Released = append(out.Released, *result)
	}
	return out
}

// EscrowStatus polls the exchange for the current state of an escrow.
// Read-only; no ledger side effects.
func (c *Client) EscrowStatus(ctx context.Context, escrowID string) (*EscrowStatus, error) {
	path := "/v1/escrow/" + url.PathEscape(escrowID)
	data, err := c.do(ctx, "get_escrow_status", http.MethodGet, path, nil, KindSettlement)
	if err != nil {
		return nil, err
	}
	status := &EscrowStatus{
		EscrowID: str(data, "escrow_id"),
		Status:   str(data, "status"),
		Amount:   num(data, "amount"),
		TaskID:   str(data, "task_id"),
	}
	if status.EscrowID == "" {
		status.EscrowID = escrowID
	}
	return status, nil
}

// Balance returns the available (non-escrowed) token balance for a wallet.
func (c *Client) Balance(ctx context.Context, walletAddress string) (float64, error) {
	path := "/v1/accounts/" + url.PathEscape(walletAddress) + "/balance"
	data, err := c.do(ctx, "get_balance", http.MethodGet, path, nil, KindSettlement)
	if err != nil {
		return 0, err
	}
	return num(data, "available_balance"), nil
}

// AccountHistory returns paginated transaction history for a wallet.
func (c *Client) AccountHistory(ctx context.Context, walletAddress string, limit, offset int) ([]Transaction, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("offset", fmt.Sprint(offset))
	path := "/v1/accounts/" + url.PathEscape(walletAddress) + "/history?" + q.Encode()
	data, err := c.do(ctx, "get_account_history", http.MethodGet, path, nil, KindSettlement)
	if err != nil {
		return nil, err
	}
	raw, ok := data["transactions"]
	if !ok {
		return []Transaction{}, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, &Error{Kind: KindSettlement, Op: "get_account_history", Message: "malformed transactions payload", Err: err}
	}
	var txs []Transaction
	if err := json.Unmarshal(b, &txs); err != nil {
		return nil, &Error{Kind: KindSettlement, Op: "get_account_history", Message: "malformed transactions payload", Err: err}
	}
	return txs, nil
}

// SessionReceipts aggregates the session ledger into a summary snapshot.
// Total released sums receipt amounts whose escrow id appears among released
// results; total cancelled is escrowed minus released.
func (c *Client) SessionReceipts() SessionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	released := make(map[string]bool)
	cancelledCount := 0
	for _, r := range c.results {
		switch r.Status {
		case StatusReleased:
			released[r.EscrowID] = true
		case StatusCancelled:
			cancelledCount++
		}
	}
	var totalEscrowed, totalReleased float64
	for _, r := range c.receipts {
		totalEscrowed += r.Amount
		if released[r.EscrowID] {
			totalReleased += r.Amount
		}
	}
	return SessionSummary{
		Receipts:       append([]EscrowReceipt(nil), c.receipts...),
		Results:        append([]SettlementResult(nil), c.results...),
		TotalEscrowed:  totalEscrowed,
		TotalReleased:  totalReleased,
		TotalCancelled: totalEscrowed - totalReleased,
		CancelledCount: cancelledCount,
	}
}

func (c *Client) appendReceipt(r EscrowReceipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.receipts {
		if existing.EscrowID == r.EscrowID {
			return
		}
	}
	c.receipts = append(c.receipts, r)
}

// appendResult records the settlement and flips the matching receipt's status
// in place; the lookup is by escrow id, never a fresh receipt.
func (c *Client) appendResult(res SettlementResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
	for i := range c.receipts {
		if c.receipts[i].EscrowID == res.EscrowID {
			c.receipts[i].Status = res.Status
			break
		}
	}
}

// do executes one logical operation with bounded exponential backoff. Only
// transport failures and 5xx responses are retried; typed failures propagate
// immediately. Exhausting retries yields a network-kind error wrapping the
// last cause.
func (c *Client) do(ctx context.Context, op, method, path string, body any, validationKind Kind) (map[string]any, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindSettlement, Op: op, Message: "encode request body", Err: err}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		data, err := c.roundTrip(ctx, op, method, path, bodyBytes, validationKind)
		if err == nil {
			return data, nil
		}
		var typed *Error
		if errors.As(err, &typed) && !typed.Retriable() {
			return nil, err
		}
		lastErr = err
		if attempt < c.retry.MaxAttempts {
			wait := c.backoff(attempt)
			log.Printf("%s: retriable error on attempt %d/%d, retrying in %s: %v", op, attempt, c.retry.MaxAttempts, wait, err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, &Error{Kind: KindNetwork, Op: op, Message: "context cancelled during retry backoff", Err: ctx.Err()}
			}
		}
	}
	return nil, &Error{
		Kind:    KindNetwork,
		Op:      op,
		Message: fmt.Sprintf("%s failed after %d attempts", op, c.retry.MaxAttempts),
		Err:     lastErr,
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	wait := c.retry.BaseDelay << (attempt - 1)
	if wait > c.retry.MaxDelay {
		wait = c.retry.MaxDelay
	}
	return wait
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, bodyBytes []byte, validationKind Kind) (map[string]any, error) {
	var reader io.Reader
	if bodyBytes != nil {
		reader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Kind: KindSettlement, Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client", clientVersion)
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Message: "transport failure", Err: err}
	}
	respBody, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return decodeBody(respBody), nil
	}
	if resp.StatusCode == http.StatusConflict {
		// Idempotency collision: the exchange already processed this request.
		// Treated as success; Escrow decides what to do with a body that
		// lacks the expected fields.
		log.Printf("%s: idempotency collision (409): %s", op, remoteMessage(respBody))
		return decodeBody(respBody), nil
	}
	return nil, statusError(op, resp.StatusCode, respBody, validationKind)
}

// statusError translates an HTTP error status into the typed taxonomy.
func statusError(op string, status int, body []byte, validationKind Kind) *Error {
	message := remoteMessage(body)
	switch {
	case status == http.StatusUnauthorized:
		return &Error{Kind: KindAuth, Op: op, StatusCode: status, Message: "unauthorized: " + message}
	case status == http.StatusPaymentRequired:
		return &Error{Kind: KindEscrow, Op: op, StatusCode: status, Code: "insufficient_balance", Message: "insufficient balance: " + message}
	case status == http.StatusNotFound:
		return &Error{Kind: KindSettlement, Op: op, StatusCode: status, Message: "not found: " + message}
	case status == http.StatusUnprocessableEntity:
		return &Error{Kind: validationKind, Op: op, StatusCode: status, Message: "validation error: " + message}
	case status >= 500 && status < 600:
		return &Error{Kind: KindNetwork, Op: op, StatusCode: status, Message: fmt.Sprintf("server error %d: %s", status, message)}
	default:
		return &Error{Kind: KindSettlement, Op: op, StatusCode: status, Message: fmt.Sprintf("unexpected status %d: %s", status, message)}
	}
}

// remoteMessage extracts the exchange's error text: the "error" field wins
// over "detail"; non-JSON bodies are used verbatim.
func remoteMessage(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		if msg, ok := obj["error"].(string); ok && msg != "" {
			return msg
		}
		if msg, ok := obj["detail"].(string); ok && msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(body))
}

func decodeBody(body []byte) map[string]any {
	if len(body) == 0 {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return map[string]any{}
	}
	return obj
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func num(m map[string]any, key string) float64 {
	v, _ := m[key].(float64)
	return v
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
