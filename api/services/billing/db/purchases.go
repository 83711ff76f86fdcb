package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

// PurchaseLedger stores one-off division purchases. Expired rows are kept for
// payment history; active queries filter on expires_at.
type PurchaseLedger struct {
	db *sqlx.DB
}

func NewPurchaseLedger(db *sqlx.DB) *PurchaseLedger {
	return &PurchaseLedger{db: db}
}

type purchaseRow struct {
	ID               string `db:"id"`
	UserID           string `db:"user_id"`
	BookID           string `db:"book_id"`
	DivisionID       string `db:"division_id"`
	ExpiresAt        int64  `db:"expires_at"`
	PaymentReference string `db:"payment_reference"`
	CreatedAt        int64  `db:"created_at"`
	UpdatedAt        int64  `db:"updated_at"`
}

func (r purchaseRow) toModel() model.PurchaseEntry {
	return model.PurchaseEntry{
		ID:               r.ID,
		UserID:           r.UserID,
		BookID:           r.BookID,
		DivisionID:       r.DivisionID,
		ExpiresAt:        time.Unix(r.ExpiresAt, 0).UTC(),
		PaymentReference: r.PaymentReference,
		CreatedAt:        time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt:        time.Unix(r.UpdatedAt, 0).UTC(),
	}
}

// Upsert records a purchase keyed by (user_id, division_id). Buying the same
// division again resets its expiry instead of adding a row.
func (l *PurchaseLedger) Upsert(ctx context.Context, p model.PurchaseEntry) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := p.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	query := l.db.Rebind(`
		INSERT INTO purchase_ledger (
			id, user_id, book_id, division_id, expires_at, payment_reference, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, division_id) DO UPDATE SET
			book_id = excluded.book_id,
			expires_at = excluded.expires_at,
			payment_reference = excluded.payment_reference,
			updated_at = excluded.updated_at`)
	_, err := l.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.BookID, p.DivisionID, p.ExpiresAt.Unix(), p.PaymentReference,
		createdAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert purchase_ledger: %w", err)
	}
	return nil
}

// ListActive returns the user's purchases with expires_at after now.
func (l *PurchaseLedger) ListActive(ctx context.Context, userID string, now time.Time) ([]model.PurchaseEntry, error) {
	query := l.db.Rebind(`
		SELECT id, user_id, book_id, division_id, expires_at, payment_reference, created_at, updated_at
		FROM purchase_ledger
		WHERE user_id = ? AND expires_at > ?
		ORDER BY division_id`)
	return l.list(ctx, query, userID, now.Unix())
}

// ListByUser returns every purchase of the user, expired ones included, newest first.
func (l *PurchaseLedger) ListByUser(ctx context.Context, userID string) ([]model.PurchaseEntry, error) {
	query := l.db.Rebind(`
		SELECT id, user_id, book_id, division_id, expires_at, payment_reference, created_at, updated_at
		FROM purchase_ledger
		WHERE user_id = ?
		ORDER BY created_at DESC, division_id`)
	return l.list(ctx, query, userID)
}

func (l *PurchaseLedger) list(ctx context.Context, query string, args ...any) ([]model.PurchaseEntry, error) {
	var rows []purchaseRow
	if err := l.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select purchase_ledger: %w", err)
	}
	out := make([]model.PurchaseEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
