package sandbox

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/a2a-settlement/a2ase/pkg/httpx"
)

// Router exposes the sandbox exchange over HTTP. When apiKey is non-empty
// every /v1 request must carry it as a bearer token; when empty, any
// non-blank bearer token is accepted.
func Router(e *Exchange, apiKey string) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/v1", func(api chi.Router) {
		api.Use(requireBearer(apiKey))

		api.Post("/agents/register", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Name         string         `json:"name"`
				Capabilities []string       `json:"capabilities"`
				Metadata     map[string]any `json:"metadata"`
				Network      string         `json:"network"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "malformed request body", err.Error())
				return
			}
			if strings.TrimSpace(req.Name) == "" {
				httpx.WriteError(w, 422, "agent name is required", "")
				return
			}
			agent := e.RegisterAgent(req.Name, req.Capabilities)
			httpx.WriteJSON(w, 200, map[string]any{
				"agent_id":       agent.AgentID,
				"wallet_address": agent.WalletAddress,
				"created_at":     agent.CreatedAt.Format(time.RFC3339),
			})
		})

		api.Post("/escrow", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Payer          string  `json:"payer_address"`
				Payee          string  `json:"payee_address"`
				Amount         float64 `json:"amount"`
				TaskID         string  `json:"task_id"`
				Description    string  `json:"description"`
				IdempotencyKey string  `json:"idempotency_key"`
				Network        string  `json:"network"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "malformed request body", err.Error())
				return
			}
			esc, err := e.CreateEscrow(req.Payer, req.Payee, req.Amount, req.TaskID, req.Description, req.IdempotencyKey)
			var dup *DuplicateError
			var verr *ValidationError
			switch {
			case errors.As(err, &dup):
				// Replay: report the existing escrow so the client can
				// resolve the receipt instead of failing.
				httpx.WriteJSON(w, 409, map[string]any{
					"error":      "duplicate idempotency key",
					"escrow_id":  dup.EscrowID,
					"created_at": esc.CreatedAt.Format(time.RFC3339),
				})
				return
			case errors.As(err, &verr):
				httpx.WriteError(w, 422, verr.Reason, "")
				return
			case errors.Is(err, ErrInsufficient):
				httpx.WriteError(w, 402, "insufficient balance", "")
				return
			case err != nil:
				httpx.WriteError(w, 500, "internal error", err.Error())
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"escrow_id":  esc.EscrowID,
				"status":     esc.Status,
				"created_at": esc.CreatedAt.Format(time.RFC3339),
			})
		})

		api.Post("/escrow/{escrow_id}/release", func(w http.ResponseWriter, r *http.Request) {
			esc, err := e.Release(chi.URLParam(r, "escrow_id"))
			if writeSettleError(w, err) {
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"escrow_id":  esc.EscrowID,
				"status":     esc.Status,
				"tx_hash":    esc.TxHash,
				"settled_at": esc.SettledAt.Format(time.RFC3339),
			})
		})

		api.Post("/escrow/{escrow_id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Reason string `json:"reason"`
			}
			if r.ContentLength != 0 {
				if err := httpx.ReadJSON(r, &req); err != nil {
					httpx.WriteError(w, 400, "malformed request body", err.Error())
					return
				}
			}
			esc, err := e.Cancel(chi.URLParam(r, "escrow_id"), req.Reason)
			if writeSettleError(w, err) {
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"escrow_id":  esc.EscrowID,
				"status":     esc.Status,
				"tx_hash":    esc.TxHash,
				"settled_at": esc.SettledAt.Format(time.RFC3339),
			})
		})

		api.Get("/escrow/{escrow_id}", func(w http.ResponseWriter, r *http.Request) {
			esc, err := e.Get(chi.URLParam(r, "escrow_id"))
			if errors.Is(err, ErrEscrowNotFound) {
				httpx.WriteError(w, 404, "escrow not found", "")
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"escrow_id":  esc.EscrowID,
				"task_id":    esc.TaskID,
				"status":     esc.Status,
				"amount":     esc.Amount,
				"created_at": esc.CreatedAt.Format(time.RFC3339),
			})
		})

		api.Get("/accounts/{wallet}/balance", func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteJSON(w, 200, map[string]any{
				"available_balance": e.Balance(chi.URLParam(r, "wallet")),
			})
		})

		api.Get("/accounts/{wallet}/history", func(w http.ResponseWriter, r *http.Request) {
			limit := queryInt(r, "limit", 50)
			offset := queryInt(r, "offset", 0)
			httpx.WriteJSON(w, 200, map[string]any{
				"transactions": e.History(chi.URLParam(r, "wallet"), limit, offset),
			})
		})
	})

	return r
}

func requireBearer(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || token == r.Header.Get("Authorization") {
				httpx.WriteError(w, 401, "Invalid API key", "missing bearer token")
				return
			}
			if apiKey != "" && token != apiKey {
				httpx.WriteError(w, 401, "Invalid API key", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeSettleError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrEscrowNotFound):
		httpx.WriteError(w, 404, "Escrow not found", "")
	case errors.Is(err, ErrAlreadySettled):
		httpx.WriteError(w, 422, "Escrow already settled", "")
	default:
		httpx.WriteError(w, 500, "internal error", err.Error())
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
