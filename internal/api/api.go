// Package api exposes the HTTP transport for order submission and
// read access, following cmd/web3-service/main.go's plain net/http
// ServeMux with Go 1.22 method-pattern routes: handlers are built as
// closures over their dependencies (handleConnectWallet(web3Service,
// logger) there, handleSubmitOrder(deps) here) rather than methods on
// a fat service struct.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dex-router/order-engine/internal/apperrors"
	"github.com/dex-router/order-engine/internal/config"
	"github.com/dex-router/order-engine/internal/order"
	"github.com/dex-router/order-engine/internal/queue"
	"github.com/dex-router/order-engine/internal/stream"
	"github.com/dex-router/order-engine/pkg/observability"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// OrderStore is the narrow slice of order.Store the transport needs.
type OrderStore interface {
	Create(ctx context.Context, fields order.NewFields) (*order.Order, error)
	FindByID(ctx context.Context, orderID string) (*order.Order, error)
	FindRecent(ctx context.Context, limit int) ([]*order.Order, error)
}

// Enqueuer is the narrow slice of queue.Queue the submission endpoint needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Hub is the narrow slice of stream.Hub the submission endpoint needs.
type Hub interface {
	Attach(orderID string, sub *stream.Subscriber)
	Emit(orderID, status string, data map[string]interface{})
}

// QueueAdmin is the narrow slice of queue.Queue the admin endpoints need.
type QueueAdmin interface {
	Pause() error
	Resume() error
	Stats() (queue.Metrics, error)
}

// MetricsRecorder is the narrow slice of observability.MetricsProvider
// the submission endpoint needs.
type MetricsRecorder interface {
	RecordOrderSubmitted(ctx context.Context)
}

// Dependencies bundles everything the router's handlers close over.
type Dependencies struct {
	Store       OrderStore
	Enqueuer    Enqueuer
	Hub         Hub
	Admin       QueueAdmin
	Health      *observability.HealthChecker
	Metrics     MetricsRecorder
	Logger      *observability.Logger
	ExecutorCfg config.ExecutorConfig
	AdminToken  string
}

// NewRouter builds the HTTP handler serving every endpoint spec.md §6
// enumerates plus the admin supplements SPEC_FULL.md adds.
func NewRouter(deps Dependencies) http.Handler {
	upgrader := websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders", handleSubmitOrder(deps, upgrader))
	mux.HandleFunc("GET /orders/recent", handleRecentOrders(deps))
	mux.HandleFunc("GET /orders/{id}", handleGetOrder(deps))
	mux.HandleFunc("GET /health", handleHealth(deps))
	mux.HandleFunc("POST /admin/queue/pause", requireAdminToken(deps.AdminToken, handleAdminPause(deps)))
	mux.HandleFunc("POST /admin/queue/resume", requireAdminToken(deps.AdminToken, handleAdminResume(deps)))
	mux.HandleFunc("GET /admin/queue/metrics", requireAdminToken(deps.AdminToken, handleAdminMetrics(deps)))
	return mux
}

// errorFrame is the validation-rejection shape spec.md §6 defines,
// sent over the upgraded connection in place of a regular Message
// since no order identifier exists yet.
type errorFrame struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	TimestampMs int64 `json:"timestampMs"`
}

func newErrorFrame(message string) errorFrame {
	f := errorFrame{TimestampMs: time.Now().UnixMilli()}
	f.Error.Code = "VALIDATION_ERROR"
	f.Error.Message = message
	return f
}

// handleSubmitOrder implements spec.md §4.8's seven-step sequence. The
// order fields travel as query parameters rather than a request body:
// gorilla/websocket requires the handshake request to be a plain GET,
// and §6 requires the validation-rejection frame to be delivered over
// the established stream rather than a plain HTTP error response, so
// the upgrade has to happen before the fields are even parsed.
func handleSubmitOrder(deps Dependencies, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		tokenIn := q.Get("tokenIn")
		tokenOut := q.Get("tokenOut")
		amountStr := q.Get("amount")
		slippageStr := q.Get("slippage")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			deps.Logger.Warn(r.Context(), "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
			return
		}
		sub := stream.NewSubscriber(conn)

		fields, verr := validateSubmission(tokenIn, tokenOut, amountStr, slippageStr, deps.ExecutorCfg)
		if verr != nil {
			_ = sub.SendRaw(newErrorFrame(verr.Message))
			_ = sub.Close()
			return
		}

		o, err := deps.Store.Create(r.Context(), fields)
		if err != nil {
			deps.Logger.Error(r.Context(), "failed to create order", err)
			_ = sub.SendRaw(newErrorFrame("failed to create order"))
			_ = sub.Close()
			return
		}

		deps.Hub.Attach(o.ID, sub)
		_ = sub.Send(stream.Message{
			OrderID:     o.ID,
			Status:      string(order.StatusPending),
			TimestampMs: time.Now().UnixMilli(),
		})

		job := queue.Job{OrderID: o.ID, TokenIn: o.TokenIn, TokenOut: o.TokenOut, Amount: o.Amount, Slippage: o.Slippage}
		if err := deps.Enqueuer.Enqueue(r.Context(), job); err != nil {
			deps.Logger.Error(r.Context(), "failed to enqueue order", err, map[string]interface{}{"order_id": o.ID})
			deps.Hub.Emit(o.ID, string(order.StatusFailed), map[string]interface{}{"error": "failed to enqueue order"})
			return
		}

		if deps.Metrics != nil {
			deps.Metrics.RecordOrderSubmitted(r.Context())
		}
		deps.Hub.Emit(o.ID, string(order.StatusPending), nil)
	}
}

// validateSubmission applies spec.md §6's validation rules, each with
// its own distinct message, then defaults and re-validates slippage
// per §4.8 step 2.
func validateSubmission(tokenIn, tokenOut, amountStr, slippageStr string, execCfg config.ExecutorConfig) (order.NewFields, *apperrors.Error) {
	if tokenIn == "" || tokenOut == "" {
		return order.NewFields{}, apperrors.Validation("tokenIn and tokenOut are required")
	}
	if tokenIn == tokenOut {
		return order.NewFields{}, apperrors.Validation("tokenIn and tokenOut must be different")
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil || !amount.IsPositive() {
		return order.NewFields{}, apperrors.Validation("amount must be greater than 0")
	}

	slippage := decimal.NewFromFloat(execCfg.DefaultSlippage)
	if slippageStr != "" {
		parsed, err := decimal.NewFromString(slippageStr)
		if err != nil {
			return order.NewFields{}, apperrors.Validation("slippage must be a number")
		}
		slippage = parsed
	}

	maxSlippage := decimal.NewFromFloat(execCfg.MaxSlippage)
	if slippage.IsNegative() || slippage.GreaterThan(maxSlippage) {
		return order.NewFields{}, apperrors.Validation("slippage must be between 0 and %s", maxSlippage.String())
	}

	return order.NewFields{TokenIn: tokenIn, TokenOut: tokenOut, Amount: amount, Slippage: slippage}, nil
}

func handleGetOrder(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		o, err := deps.Store.FindByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, order.ErrNotFound) {
				http.Error(w, "order not found", http.StatusNotFound)
				return
			}
			deps.Logger.Error(r.Context(), "failed to look up order", err, map[string]interface{}{"order_id": id})
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(o)
	}
}

func handleRecentOrders(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil {
				limit = parsed
			}
		}

		orders, err := deps.Store.FindRecent(r.Context(), limit)
		if err != nil {
			deps.Logger.Error(r.Context(), "failed to list recent orders", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"orders": orders})
	}
}

func handleHealth(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if deps.Health != nil {
			results := deps.Health.CheckHealth(r.Context())
			if deps.Health.GetOverallStatus(results) != observability.HealthStatusHealthy {
				status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    status,
			"timestamp": time.Now(),
		})
	}
}

func requireAdminToken(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if token == "" || !strings.HasPrefix(auth, prefix) || auth[len(prefix):] != token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func handleAdminPause(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Admin.Pause(); err != nil {
			deps.Logger.Error(r.Context(), "failed to pause queue", err)
			http.Error(w, "failed to pause queue", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "paused"})
	}
}

func handleAdminResume(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Admin.Resume(); err != nil {
			deps.Logger.Error(r.Context(), "failed to resume queue", err)
			http.Error(w, "failed to resume queue", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "resumed"})
	}
}

func handleAdminMetrics(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Admin.Stats()
		if err != nil {
			deps.Logger.Error(r.Context(), "failed to read queue metrics", err)
			http.Error(w, "failed to read queue metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}
