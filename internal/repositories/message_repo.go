package repositories

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ads-marketplace/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func insertMessages(ctx context.Context, tx pgx.Tx, msgs []models.MessageLog) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range msgs {
		m := &msgs[i]
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO escrow_messages (id, unit_address, direction, op, op_name, query_id, source, destination,
			                             value_nano, send_mode, body_boc, exit_code, tx_hash)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9::numeric, $10, $11, $12, $13)
		`, m.ID, m.UnitAddress, m.Direction, int64(m.Op), m.OpName, strconv.FormatUint(m.QueryID, 10),
			m.Source, m.Destination, nanoOrZero(m.ValueNano), int16(m.SendMode), m.BodyBOC, m.ExitCode, m.TxHash)
	}

	br := tx.SendBatch(ctx, batch)
	for range msgs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			if isDuplicateKeyError(err) {
				// the only unique key a new row can hit is tx_hash
				return ErrDuplicateTx
			}
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return br.Close()
}

func (r *MessageRepo) ListByUnit(ctx context.Context, address string, limit, offset int) ([]models.MessageLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, unit_address, direction, op, op_name, query_id::text, source, destination,
		       value_nano::text, send_mode, body_boc, exit_code, tx_hash, created_at
		FROM escrow_messages
		WHERE unit_address = $1
		ORDER BY seq
		LIMIT $2 OFFSET $3
	`, address, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.MessageLog
	for rows.Next() {
		var (
			m       models.MessageLog
			op      int64
			queryID string
			mode    int16
		)
		if err := rows.Scan(&m.ID, &m.UnitAddress, &m.Direction, &op, &m.OpName, &queryID, &m.Source, &m.Destination,
			&m.ValueNano, &mode, &m.BodyBOC, &m.ExitCode, &m.TxHash, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Op = uint32(op)
		m.SendMode = uint8(mode)
		if m.QueryID, err = strconv.ParseUint(queryID, 10, 64); err != nil {
			return nil, fmt.Errorf("query_id %q: %w", queryID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// HasTx reports whether an inbound message of the given transaction was
// already recorded.
func (r *MessageRepo) HasTx(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM escrow_messages WHERE tx_hash = $1)", txHash).Scan(&exists)
	return exists, err
}
