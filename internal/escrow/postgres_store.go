package escrow

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists escrow transactions in PostgreSQL.
//
// The version column is the serialization point for the whole engine:
// Update compiles to UPDATE ... WHERE id AND version, so two racing writers
// can both read the same row but only one write lands.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_transactions (
			id, listing_id, buyer_id, seller_id,
			amount_minor, currency, commission_rate, commission_minor, seller_net_minor,
			auth_ref, meeting_location, meeting_time,
			buyer_confirmed_at, seller_confirmed_at,
			dispute_reason, disputed_by, dispute_opened_at,
			cancelled_at, funds_released_at,
			status, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12,
			$13, $14,
			$15, $16, $17,
			$18, $19,
			$20, $21, $22, $23
		)`,
		tx.ID, tx.ListingID, tx.BuyerID, tx.SellerID,
		tx.AmountMinor, tx.Currency, tx.CommissionRate, tx.CommissionMinor, tx.SellerNetMinor,
		tx.AuthRef, nullString(tx.MeetingLocation), tx.MeetingTime,
		nullTime(tx.BuyerConfirmedAt), nullTime(tx.SellerConfirmedAt),
		nullString(tx.DisputeReason), nullString(tx.DisputedBy), nullTime(tx.DisputeOpenedAt),
		nullTime(tx.CancelledAt), nullTime(tx.FundsReleasedAt),
		string(tx.Status), tx.Version, tx.CreatedAt, tx.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return ErrVersionConflict
	}
	return err
}

const txColumns = `id, listing_id, buyer_id, seller_id,
		       amount_minor, currency, commission_rate, commission_minor, seller_net_minor,
		       auth_ref, meeting_location, meeting_time,
		       buyer_confirmed_at, seller_confirmed_at,
		       dispute_reason, disputed_by, dispute_opened_at,
		       cancelled_at, funds_released_at,
		       status, version, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM escrow_transactions WHERE id = $1`, id)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return tx, err
}

func (p *PostgresStore) Update(ctx context.Context, tx *Transaction, expectedVersion int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_transactions SET
			buyer_confirmed_at = $1, seller_confirmed_at = $2,
			dispute_reason = $3, disputed_by = $4, dispute_opened_at = $5,
			cancelled_at = $6, funds_released_at = $7,
			status = $8, version = version + 1, updated_at = $9
		WHERE id = $10 AND version = $11`,
		nullTime(tx.BuyerConfirmedAt), nullTime(tx.SellerConfirmedAt),
		nullString(tx.DisputeReason), nullString(tx.DisputedBy), nullTime(tx.DisputeOpenedAt),
		nullTime(tx.CancelledAt), nullTime(tx.FundsReleasedAt),
		string(tx.Status), tx.UpdatedAt,
		tx.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the row is gone or someone else bumped the version. A
		// missing row for a known ID can't happen (records are never
		// deleted), so report the conflict and let the caller re-read.
		return ErrVersionConflict
	}
	tx.Version = expectedVersion + 1
	return nil
}

func (p *PostgresStore) ListByParty(ctx context.Context, partyID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txColumns+`
		FROM escrow_transactions
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, partyID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (*Transaction, error) {
	tx := &Transaction{}
	var (
		meetingLocation   sql.NullString
		buyerConfirmedAt  sql.NullTime
		sellerConfirmedAt sql.NullTime
		disputeReason     sql.NullString
		disputedBy        sql.NullString
		disputeOpenedAt   sql.NullTime
		cancelledAt       sql.NullTime
		fundsReleasedAt   sql.NullTime
		status            string
	)

	err := s.Scan(
		&tx.ID, &tx.ListingID, &tx.BuyerID, &tx.SellerID,
		&tx.AmountMinor, &tx.Currency, &tx.CommissionRate, &tx.CommissionMinor, &tx.SellerNetMinor,
		&tx.AuthRef, &meetingLocation, &tx.MeetingTime,
		&buyerConfirmedAt, &sellerConfirmedAt,
		&disputeReason, &disputedBy, &disputeOpenedAt,
		&cancelledAt, &fundsReleasedAt,
		&status, &tx.Version, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Status = Status(status)
	tx.MeetingLocation = meetingLocation.String
	tx.DisputeReason = disputeReason.String
	tx.DisputedBy = disputedBy.String
	if buyerConfirmedAt.Valid {
		tx.BuyerConfirmedAt = &buyerConfirmedAt.Time
	}
	if sellerConfirmedAt.Valid {
		tx.SellerConfirmedAt = &sellerConfirmedAt.Time
	}
	if disputeOpenedAt.Valid {
		tx.DisputeOpenedAt = &disputeOpenedAt.Time
	}
	if cancelledAt.Valid {
		tx.CancelledAt = &cancelledAt.Time
	}
	if fundsReleasedAt.Valid {
		tx.FundsReleasedAt = &fundsReleasedAt.Time
	}

	return tx, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var result []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a nil *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
