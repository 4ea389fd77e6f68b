package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, accountID string) (Profile, bool, error) {
	const q = `
		SELECT account_id, first_name, last_name, phone, billing_address, shipping_address, credit_card_enc, updated_at
		FROM profiles
		WHERE account_id = $1
	`
	var p Profile
	err := r.db.QueryRowContext(ctx, q, accountID).Scan(
		&p.AccountID,
		&p.FirstName,
		&p.LastName,
		&p.Phone,
		&p.BillingAddress,
		&p.ShippingAddress,
		&p.CreditCardEnc,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("query profile: %w", err)
	}
	return p, true, nil
}

func (r *Repository) Upsert(ctx context.Context, p Profile) error {
	const q = `
		INSERT INTO profiles (account_id, first_name, last_name, phone, billing_address, shipping_address, credit_card_enc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			phone = EXCLUDED.phone,
			billing_address = EXCLUDED.billing_address,
			shipping_address = EXCLUDED.shipping_address,
			credit_card_enc = EXCLUDED.credit_card_enc,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, q,
		p.AccountID,
		p.FirstName,
		p.LastName,
		p.Phone,
		p.BillingAddress,
		p.ShippingAddress,
		p.CreditCardEnc,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
