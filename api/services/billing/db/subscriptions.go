package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

// ErrStaleWrite is returned by Save when the stored row for the same external
// subscription already holds a higher-precedence status.
var ErrStaleWrite = errors.New("stale subscription write")

// SubscriptionStore persists the single current subscription row per user and
// the per-subscription history rows.
type SubscriptionStore struct {
	db *sqlx.DB
}

func NewSubscriptionStore(db *sqlx.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

type subscriptionRow struct {
	ID                     string        `db:"id"`
	UserID                 string        `db:"user_id"`
	Status                 string        `db:"status"`
	PlanType               string        `db:"plan_type"`
	IsPlus                 bool          `db:"is_plus"`
	PriceReference         string        `db:"price_reference"`
	ExternalSubscriptionID string        `db:"external_subscription_id"`
	CurrentPeriodStart     sql.NullInt64 `db:"current_period_start"`
	CurrentPeriodEnd       sql.NullInt64 `db:"current_period_end"`
	CancelAtPeriodEnd      bool          `db:"cancel_at_period_end"`
	CreatedAt              int64         `db:"created_at"`
	UpdatedAt              int64         `db:"updated_at"`
}

func (r subscriptionRow) toModel() *model.SubscriptionRecord {
	return &model.SubscriptionRecord{
		ID:                     r.ID,
		UserID:                 r.UserID,
		Status:                 model.SubscriptionStatus(r.Status),
		PlanType:               model.PlanType(r.PlanType),
		IsPlus:                 r.IsPlus,
		PriceReference:         r.PriceReference,
		ExternalSubscriptionID: r.ExternalSubscriptionID,
		CurrentPeriodStart:     fromNullUnix(r.CurrentPeriodStart),
		CurrentPeriodEnd:       fromNullUnix(r.CurrentPeriodEnd),
		CancelAtPeriodEnd:      r.CancelAtPeriodEnd,
		CreatedAt:              time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt:              time.Unix(r.UpdatedAt, 0).UTC(),
	}
}

// FindByUserID returns the user's current subscription record, or nil when none exists.
func (s *SubscriptionStore) FindByUserID(ctx context.Context, userID string) (*model.SubscriptionRecord, error) {
	query := s.db.Rebind(`
		SELECT id, user_id, status, plan_type, is_plus, price_reference, external_subscription_id,
		       current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at
		FROM subscription_record
		WHERE user_id = ?`)
	var row subscriptionRow
	if err := s.db.GetContext(ctx, &row, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select subscription_record: %w", err)
	}
	return row.toModel(), nil
}

// Save writes rec as the user's current subscription in one transaction:
// other active history rows of the user are canceled, the history row for
// rec's external id is upserted, and the current row is upserted keyed by
// user_id. Absent period bounds keep the stored values. When the stored row
// has the same external id and a higher status rank nothing is written and
// ErrStaleWrite is returned. It reports how many history rows were canceled.
func (s *SubscriptionStore) Save(ctx context.Context, rec *model.SubscriptionRecord) (int64, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := rec.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	upsertCurrent := tx.Rebind(`
		INSERT INTO subscription_record (
			id, user_id, status, status_rank, plan_type, is_plus, price_reference,
			external_subscription_id, current_period_start, current_period_end,
			cancel_at_period_end, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			status = excluded.status,
			status_rank = excluded.status_rank,
			plan_type = excluded.plan_type,
			is_plus = excluded.is_plus,
			price_reference = excluded.price_reference,
			external_subscription_id = excluded.external_subscription_id,
			current_period_start = COALESCE(excluded.current_period_start, subscription_record.current_period_start),
			current_period_end = COALESCE(excluded.current_period_end, subscription_record.current_period_end),
			cancel_at_period_end = excluded.cancel_at_period_end,
			updated_at = excluded.updated_at
		WHERE subscription_record.external_subscription_id <> excluded.external_subscription_id
		   OR subscription_record.status_rank <= excluded.status_rank`)
	res, err := tx.ExecContext(ctx, upsertCurrent,
		rec.ID,
		rec.UserID,
		string(rec.Status),
		rec.Status.Rank(),
		string(rec.PlanType),
		rec.IsPlus,
		rec.PriceReference,
		rec.ExternalSubscriptionID,
		toNullUnix(rec.CurrentPeriodStart),
		toNullUnix(rec.CurrentPeriodEnd),
		rec.CancelAtPeriodEnd,
		createdAt.Unix(),
		now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("upsert subscription_record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrStaleWrite
	}

	cancelOthers := tx.Rebind(`
		UPDATE subscription_history
		SET status = ?, status_rank = ?, updated_at = ?
		WHERE user_id = ? AND external_subscription_id <> ? AND status = ?`)
	res, err = tx.ExecContext(ctx, cancelOthers,
		string(model.StatusCanceled), model.StatusCanceled.Rank(), now.Unix(),
		rec.UserID, rec.ExternalSubscriptionID, string(model.StatusActive),
	)
	if err != nil {
		return 0, fmt.Errorf("cancel other subscriptions: %w", err)
	}
	canceled, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	// rec is the current subscription once the guarded upsert above succeeds,
	// so its history row always follows it, even back from canceled.
	upsertHistory := tx.Rebind(`
		INSERT INTO subscription_history (
			id, user_id, external_subscription_id, status, status_rank, price_reference, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, external_subscription_id) DO UPDATE SET
			status = excluded.status,
			status_rank = excluded.status_rank,
			price_reference = excluded.price_reference,
			updated_at = excluded.updated_at`)
	if _, err := tx.ExecContext(ctx, upsertHistory,
		uuid.NewString(),
		rec.UserID,
		rec.ExternalSubscriptionID,
		string(rec.Status),
		rec.Status.Rank(),
		rec.PriceReference,
		now.Unix(),
		now.Unix(),
	); err != nil {
		return 0, fmt.Errorf("upsert subscription_history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return canceled, nil
}

// SetCancelAtPeriodEnd updates only the cancel flag of the user's current row,
// and only while that row still refers to externalSubscriptionID. It reports
// whether a row was updated; a replaced subscription leaves the row untouched.
func (s *SubscriptionStore) SetCancelAtPeriodEnd(ctx context.Context, userID, externalSubscriptionID string, cancel bool, at time.Time) (bool, error) {
	query := s.db.Rebind(`
		UPDATE subscription_record
		SET cancel_at_period_end = ?, updated_at = ?
		WHERE user_id = ? AND external_subscription_id = ?`)
	res, err := s.db.ExecContext(ctx, query, cancel, at.Unix(), userID, externalSubscriptionID)
	if err != nil {
		return false, fmt.Errorf("update cancel_at_period_end: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

type historyRow struct {
	ID                     string `db:"id"`
	UserID                 string `db:"user_id"`
	ExternalSubscriptionID string `db:"external_subscription_id"`
	Status                 string `db:"status"`
	PriceReference         string `db:"price_reference"`
	CreatedAt              int64  `db:"created_at"`
	UpdatedAt              int64  `db:"updated_at"`
}

// ListHistory returns every subscription seen for the user, oldest first.
func (s *SubscriptionStore) ListHistory(ctx context.Context, userID string) ([]model.SubscriptionHistoryEntry, error) {
	query := s.db.Rebind(`
		SELECT id, user_id, external_subscription_id, status, price_reference, created_at, updated_at
		FROM subscription_history
		WHERE user_id = ?
		ORDER BY created_at, external_subscription_id`)
	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("select subscription_history: %w", err)
	}
	out := make([]model.SubscriptionHistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.SubscriptionHistoryEntry{
			ID:                     r.ID,
			UserID:                 r.UserID,
			ExternalSubscriptionID: r.ExternalSubscriptionID,
			Status:                 model.SubscriptionStatus(r.Status),
			PriceReference:         r.PriceReference,
			CreatedAt:              time.Unix(r.CreatedAt, 0).UTC(),
			UpdatedAt:              time.Unix(r.UpdatedAt, 0).UTC(),
		})
	}
	return out, nil
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
