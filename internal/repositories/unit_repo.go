package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ads-marketplace/escrow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrDuplicateTx   = errors.New("transaction already recorded")
)

// PostgreSQL error codes
const pgErrUniqueViolation = "23505"

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

type UnitRepo struct {
	pool *pgxpool.Pool
}

func NewUnitRepo(pool *pgxpool.Pool) *UnitRepo {
	return &UnitRepo{pool: pool}
}

const unitColumns = `address, deal_id::text, status, uses_token, storage_boc, balance_nano::text,
	start_time, deadline, last_now, custody, created_at, updated_at`

func scanUnit(row pgx.Row) (*models.Unit, error) {
	var (
		u      models.Unit
		dealID string
	)
	err := row.Scan(&u.Address, &dealID, &u.Status, &u.UsesToken, &u.StorageBOC, &u.BalanceNano,
		&u.StartTime, &u.Deadline, &u.LastNow, &u.Custody, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.DealID, err = strconv.ParseUint(dealID, 10, 64); err != nil {
		return nil, fmt.Errorf("deal_id %q: %w", dealID, err)
	}
	return &u, nil
}

func (r *UnitRepo) Create(ctx context.Context, u *models.Unit) error {
	if u.Custody == "" {
		u.Custody = models.CustodySimulated
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO escrow_units (address, deal_id, status, uses_token, storage_boc, balance_nano, start_time, deadline,
		                          last_now, custody)
		VALUES ($1, $2::numeric, $3, $4, $5, $6::numeric, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, u.Address, strconv.FormatUint(u.DealID, 10), u.Status, u.UsesToken, u.StorageBOC, nanoOrZero(u.BalanceNano),
		u.StartTime, u.Deadline, u.LastNow, u.Custody,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if isDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

func (r *UnitRepo) GetByAddress(ctx context.Context, address string) (*models.Unit, error) {
	return scanUnit(r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM escrow_units WHERE address = $1`, address))
}

// ListByStatusBefore returns units in status whose deadline is before the
// given unix time, oldest first.
func (r *UnitRepo) ListByStatusBefore(ctx context.Context, status string, before int64, limit int) ([]models.Unit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+unitColumns+`
		FROM escrow_units
		WHERE status = $1 AND deadline < $2
		ORDER BY deadline
		LIMIT $3
	`, status, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []models.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

// MutateFunc receives the locked row and changes it in place. The returned
// messages are written in the same transaction. Returning an error rolls
// everything back.
type MutateFunc func(u *models.Unit) ([]models.MessageLog, error)

// Mutate runs fn under a row lock (SELECT ... FOR UPDATE) so that deliveries
// to one unit are serialized across processes.
func (r *UnitRepo) Mutate(ctx context.Context, address string, fn MutateFunc) (*models.Unit, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := scanUnit(tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM escrow_units WHERE address = $1 FOR UPDATE`, address))
	if err != nil {
		return nil, err
	}

	msgs, err := fn(u)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE escrow_units
		SET status = $1, storage_boc = $2, balance_nano = $3::numeric, start_time = $4, deadline = $5,
		    last_now = $6, updated_at = now()
		WHERE address = $7
		RETURNING updated_at
	`, u.Status, u.StorageBOC, nanoOrZero(u.BalanceNano), u.StartTime, u.Deadline, u.LastNow, u.Address).Scan(&u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := insertMessages(ctx, tx, msgs); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

func nanoOrZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
