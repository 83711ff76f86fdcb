package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ProfileDirectory maps application users to billing customer references.
type ProfileDirectory struct {
	db *sqlx.DB
}

func NewProfileDirectory(db *sqlx.DB) *ProfileDirectory {
	return &ProfileDirectory{db: db}
}

// FindUserIDByCustomerRef returns the user owning customerRef; ok is false when unmapped.
func (d *ProfileDirectory) FindUserIDByCustomerRef(ctx context.Context, customerRef string) (string, bool, error) {
	return d.lookup(ctx, `SELECT user_id FROM profiles WHERE stripe_customer_id = ?`, customerRef)
}

// FindCustomerRefByUserID returns the billing customer of userID; ok is false when unmapped.
func (d *ProfileDirectory) FindCustomerRefByUserID(ctx context.Context, userID string) (string, bool, error) {
	return d.lookup(ctx, `SELECT stripe_customer_id FROM profiles WHERE user_id = ?`, userID)
}

func (d *ProfileDirectory) lookup(ctx context.Context, query, arg string) (string, bool, error) {
	var out string
	if err := d.db.GetContext(ctx, &out, d.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("select profiles: %w", err)
	}
	return out, true, nil
}

// LinkCustomer associates userID with a billing customer, replacing any previous link.
func (d *ProfileDirectory) LinkCustomer(ctx context.Context, userID, customerRef string) error {
	now := time.Now().Unix()
	query := d.db.Rebind(`
		INSERT INTO profiles (user_id, stripe_customer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			stripe_customer_id = excluded.stripe_customer_id,
			updated_at = excluded.updated_at`)
	if _, err := d.db.ExecContext(ctx, query, userID, customerRef, now, now); err != nil {
		return fmt.Errorf("upsert profiles: %w", err)
	}
	return nil
}
