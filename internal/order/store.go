package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dex-router/order-engine/pkg/database"
	"github.com/google/uuid"
)

// ErrNotFound is returned by findById when no order exists with the
// given identifier.
var ErrNotFound = errors.New("order not found")

// Store is the durable order repository. The pipeline worker is the
// sole writer after creation; the submission and read endpoints are
// the only other callers.
type Store interface {
	Create(ctx context.Context, fields NewFields) (*Order, error)
	UpdateStatus(ctx context.Context, orderID string, newStatus Status, patch Patch) error
	FindByID(ctx context.Context, orderID string) (*Order, error)
	FindRecent(ctx context.Context, limit int) ([]*Order, error)
	GetStatusHistory(ctx context.Context, orderID string) ([]StatusHistoryEntry, error)
}

type postgresStore struct {
	db *database.DB
}

// NewPostgresStore builds a Store backed by Postgres, grounded on the
// transactional insert-plus-audit pattern in the teacher's
// repository_postgres.go (SetPrimary's two-statement transaction).
func NewPostgresStore(db *database.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Create(ctx context.Context, fields NewFields) (*Order, error) {
	now := time.Now().UTC()
	o := &Order{
		ID:        uuid.NewString(),
		TokenIn:   fields.TokenIn,
		TokenOut:  fields.TokenOut,
		Amount:    fields.Amount,
		Slippage:  fields.Slippage,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, token_in, token_out, amount, slippage, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, o.ID, o.TokenIn, o.TokenOut, o.Amount, o.Slippage, o.Status, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_status_history (order_id, status, timestamp)
			VALUES ($1, $2, $3)
		`, o.ID, o.Status, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *postgresStore) UpdateStatus(ctx context.Context, orderID string, newStatus Status, patch Patch) error {
	now := time.Now().UTC()

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var confirmedAt interface{}
		if newStatus == StatusConfirmed {
			confirmedAt = now
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE orders SET
				status = $1,
				updated_at = $2,
				venue = COALESCE($3, venue),
				tx_id = COALESCE($4, tx_id),
				exec_price = COALESCE($5, exec_price),
				in_amount = COALESCE($6, in_amount),
				out_amount = COALESCE($7, out_amount),
				fail_reason = COALESCE($8, fail_reason),
				confirmed_at = COALESCE($9, confirmed_at)
			WHERE id = $10
		`, newStatus, now, patch.Venue, patch.TxID, patch.ExecPrice, patch.InAmount, patch.OutAmount,
			patch.FailReason, confirmedAt, orderID)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		metadataJSON, _ := marshalMetadata(patch.Metadata)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_status_history (order_id, status, timestamp, metadata)
			VALUES ($1, $2, $3, $4)
		`, orderID, newStatus, now, metadataJSON)
		if err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}
		return nil
	})
}

func (s *postgresStore) FindByID(ctx context.Context, orderID string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, token_in, token_out, amount, slippage, status, venue, tx_id, exec_price,
		       in_amount, out_amount, fail_reason, created_at, updated_at, confirmed_at
		FROM orders WHERE id = $1
	`, orderID)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return o, nil
}

func (s *postgresStore) FindRecent(ctx context.Context, limit int) ([]*Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token_in, token_out, amount, slippage, status, venue, tx_id, exec_price,
		       in_amount, out_amount, fail_reason, created_at, updated_at, confirmed_at
		FROM orders ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("find recent orders: %w", err)
	}
	defer rows.Close()

	var result []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (s *postgresStore) GetStatusHistory(ctx context.Context, orderID string) ([]StatusHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, status, timestamp, metadata
		FROM order_status_history WHERE order_id = $1 ORDER BY timestamp ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get status history: %w", err)
	}
	defer rows.Close()

	var result []StatusHistoryEntry
	for rows.Next() {
		var e StatusHistoryEntry
		var metadataRaw []byte
		if err := rows.Scan(&e.OrderID, &e.Status, &e.Timestamp, &metadataRaw); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &e.Metadata)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanOrder(scanner interface{ Scan(dest ...any) error }) (*Order, error) {
	o := &Order{}
	if err := scanner.Scan(&o.ID, &o.TokenIn, &o.TokenOut, &o.Amount, &o.Slippage, &o.Status,
		&o.Venue, &o.TxID, &o.ExecPrice, &o.InAmount, &o.OutAmount, &o.FailReason,
		&o.CreatedAt, &o.UpdatedAt, &o.ConfirmedAt); err != nil {
		return nil, err
	}
	return o, nil
}

func marshalMetadata(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
