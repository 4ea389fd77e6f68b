package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository is the Postgres Store. Per-account atomicity comes from row
// locks: every multi-step mutation runs in one transaction that starts with
// SELECT ... FOR UPDATE on the account row, so concurrent requests for the
// same account serialize and different accounts never contend.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const accountColumns = `id, email, password_hash, last_password_changed_at, session_token,
	two_factor_enabled, two_factor_secret, failed_attempts, lockout_ends_at, created_at, updated_at`

func scanAccount(row interface{ Scan(dest ...any) error }) (Account, error) {
	var account Account
	var lastChanged, lockoutEnds sql.NullTime
	err := row.Scan(
		&account.ID, &account.Email, &account.PasswordHash, &lastChanged, &account.SessionToken,
		&account.TwoFactorEnabled, &account.TwoFactorSecret, &account.FailedAttempts, &lockoutEnds,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	if lastChanged.Valid {
		value := lastChanged.Time.UTC()
		account.LastPasswordChangedAt = &value
	}
	if lockoutEnds.Valid {
		value := lockoutEnds.Time.UTC()
		account.LockoutEndsAt = &value
	}
	return account, nil
}

func (r *Repository) CreateAccount(ctx context.Context, account Account, history PasswordHistoryEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create account tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, last_password_changed_at, session_token,
			two_factor_enabled, two_factor_secret, failed_attempts, lockout_ends_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, account.ID, strings.ToLower(account.Email), account.PasswordHash, nullableTime(account.LastPasswordChangedAt),
		account.SessionToken, account.TwoFactorEnabled, account.TwoFactorSecret,
		account.FailedAttempts, nullableTime(account.LockoutEndsAt), account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO password_history (id, account_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, history.ID, history.AccountID, history.Hash, history.CreatedAt); err != nil {
		return fmt.Errorf("insert password history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create account tx: %w", err)
	}
	return nil
}

func (r *Repository) AccountByEmail(ctx context.Context, email string) (Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, strings.ToLower(email))
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("query account by email: %w", err)
	}
	return account, nil
}

func (r *Repository) AccountByID(ctx context.Context, id string) (Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("query account by id: %w", err)
	}
	return account, nil
}

func (r *Repository) RecordFailedAttempt(ctx context.Context, id string, threshold int, window time.Duration, now time.Time) (*time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin failed attempt tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	var lockoutEnds sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, lockout_ends_at FROM accounts WHERE id = $1 FOR UPDATE
	`, id).Scan(&failed, &lockoutEnds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock account row: %w", err)
	}

	if lockoutEnds.Valid {
		if now.Before(lockoutEnds.Time) {
			// Active lockout, attempts do not extend it.
			until := lockoutEnds.Time.UTC()
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("commit failed attempt tx: %w", err)
			}
			return &until, nil
		}
		failed = 0
		lockoutEnds = sql.NullTime{}
	}

	failed++
	var locked *time.Time
	if failed >= threshold {
		until := now.Add(window).UTC()
		lockoutEnds = sql.NullTime{Time: until, Valid: true}
		locked = &until
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET failed_attempts = $2, lockout_ends_at = $3, updated_at = $4 WHERE id = $1
	`, id, failed, lockoutEnds, now.UTC()); err != nil {
		return nil, fmt.Errorf("update failed attempts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit failed attempt tx: %w", err)
	}
	return locked, nil
}

func (r *Repository) ResetLockout(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET failed_attempts = 0, lockout_ends_at = NULL, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("reset lockout: %w", err)
	}
	return nil
}

func (r *Repository) SetSessionToken(ctx context.Context, id, token string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET session_token = $2, updated_at = NOW() WHERE id = $1
	`, id, token)
	if err != nil {
		return fmt.Errorf("set session token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set session token rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *Repository) CommitPasswordChange(ctx context.Context, id, newHash string, depth int, now time.Time, sessionToken string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin password change tx: %w", err)
	}
	defer tx.Rollback()

	var existing string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&existing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lock account row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $2, last_password_changed_at = $3, session_token = $4, updated_at = $3
		WHERE id = $1
	`, id, newHash, now.UTC(), sessionToken); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	entryID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate history id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO password_history (id, account_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, entryID.String(), id, newHash, now.UTC()); err != nil {
		return fmt.Errorf("insert password history: %w", err)
	}

	// Evict beyond the retained depth, oldest first, in the same tx: a hash
	// update without the trim is a data-integrity defect.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM password_history
		WHERE account_id = $1
		  AND id NOT IN (
			SELECT id FROM password_history
			WHERE account_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		  )
	`, id, depth); err != nil {
		return fmt.Errorf("trim password history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit password change tx: %w", err)
	}
	return nil
}

func (r *Repository) PasswordHistory(ctx context.Context, id string, limit int) ([]PasswordHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, password_hash, created_at
		FROM password_history
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("query password history: %w", err)
	}
	defer rows.Close()

	var entries []PasswordHistoryEntry
	for rows.Next() {
		var entry PasswordHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Hash, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan password history: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate password history: %w", err)
	}
	return entries, nil
}

func (r *Repository) SetTwoFactor(ctx context.Context, id string, enabled bool, secret string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET two_factor_enabled = $2, two_factor_secret = $3, updated_at = NOW() WHERE id = $1
	`, id, enabled, secret)
	if err != nil {
		return fmt.Errorf("set two factor: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set two factor rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *Repository) AppendAudit(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate audit id: %w", err)
		}
		event.ID = id.String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, account_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ID, event.AccountID, event.Action, event.Details, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *Repository) RecentAudit(ctx context.Context, limit int) ([]AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, action, details, created_at
		FROM audit_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var event AuditEvent
		if err := rows.Scan(&event.ID, &event.AccountID, &event.Action, &event.Details, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// PurgeAuditBefore removes audit events older than the cutoff, in batches.
func (r *Repository) PurgeAuditBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id FROM audit_events
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM audit_events t
		USING stale
		WHERE t.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge audit rows affected: %w", err)
	}
	return affected, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
