package slots

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskora/marketplace/internal/market"
)

// PGRepo implements Repository on Postgres. Reserve/commit/release run
// inside a transaction started by WithTx; the tx travels in the context
// so the service code stays storage-agnostic.
type PGRepo struct{ DB *pgxpool.Pool }

type txKey struct{}

func (r *PGRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// querier picks the in-flight tx when present, the pool otherwise.
func (r *PGRepo) querier(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.DB
}

// LockScope takes a transaction-scoped advisory lock on the
// (category, area) key. Row locks alone cannot serialize reserves on a
// fresh scope: with no position_slots rows yet, FOR UPDATE locks
// nothing and two inserts race. Released automatically at commit or
// rollback.
func (r *PGRepo) LockScope(ctx context.Context, categoryID, area string) error {
	_, err := r.querier(ctx).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, categoryID+":"+area)
	return err
}

func (r *PGRepo) Slots(ctx context.Context, categoryID, area string) ([]market.PositionSlot, error) {
	return r.scanSlots(ctx, `
		SELECT category_id, area, rank, holder_id, expires_at, created_at
		FROM position_slots WHERE category_id=$1 AND area=$2`, categoryID, area)
}

func (r *PGRepo) SlotsForUpdate(ctx context.Context, categoryID, area string) ([]market.PositionSlot, error) {
	return r.scanSlots(ctx, `
		SELECT category_id, area, rank, holder_id, expires_at, created_at
		FROM position_slots WHERE category_id=$1 AND area=$2 FOR UPDATE`, categoryID, area)
}

func (r *PGRepo) scanSlots(ctx context.Context, sql, categoryID, area string) ([]market.PositionSlot, error) {
	rows, err := r.querier(ctx).Query(ctx, sql, categoryID, area)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.PositionSlot
	for rows.Next() {
		var s market.PositionSlot
		if err := rows.Scan(&s.CategoryID, &s.Area, &s.Rank, &s.HolderID, &s.ExpiresAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PGRepo) HeldReservations(ctx context.Context, categoryID, area string) ([]market.Reservation, error) {
	rows, err := r.querier(ctx).Query(ctx, `
		SELECT id, category_id, area, rank, freelancer_id, status, expires_at, created_at
		FROM slot_reservations
		WHERE category_id=$1 AND area=$2 AND status='HELD'`, categoryID, area)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Reservation
	for rows.Next() {
		var resv market.Reservation
		if err := rows.Scan(&resv.ID, &resv.CategoryID, &resv.Area, &resv.Rank, &resv.FreelancerID,
			&resv.Status, &resv.ExpiresAt, &resv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, resv)
	}
	return out, rows.Err()
}

func (r *PGRepo) CreateReservation(ctx context.Context, resv market.Reservation) error {
	_, err := r.querier(ctx).Exec(ctx, `
		INSERT INTO slot_reservations(id, category_id, area, rank, freelancer_id, status, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		resv.ID, resv.CategoryID, resv.Area, resv.Rank, resv.FreelancerID, resv.Status, resv.ExpiresAt, resv.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// slot_reservations_held_rank: another live hold beat the insert
		return market.ErrConflict
	}
	return err
}

func (r *PGRepo) GetReservationForUpdate(ctx context.Context, id string) (market.Reservation, error) {
	var resv market.Reservation
	err := r.querier(ctx).QueryRow(ctx, `
		SELECT id, category_id, area, rank, freelancer_id, status, expires_at, created_at
		FROM slot_reservations WHERE id=$1 FOR UPDATE`, id).
		Scan(&resv.ID, &resv.CategoryID, &resv.Area, &resv.Rank, &resv.FreelancerID,
			&resv.Status, &resv.ExpiresAt, &resv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Reservation{}, market.ErrReservationNotFound
	}
	return resv, err
}

func (r *PGRepo) UpdateReservationStatus(ctx context.Context, id string, status market.ReservationStatus) error {
	_, err := r.querier(ctx).Exec(ctx,
		`UPDATE slot_reservations SET status=$2 WHERE id=$1`, id, status)
	return err
}

func (r *PGRepo) GetSlot(ctx context.Context, categoryID, area string, rank market.Rank) (*market.PositionSlot, error) {
	var s market.PositionSlot
	err := r.querier(ctx).QueryRow(ctx, `
		SELECT category_id, area, rank, holder_id, expires_at, created_at
		FROM position_slots WHERE category_id=$1 AND area=$2 AND rank=$3`,
		categoryID, area, rank).
		Scan(&s.CategoryID, &s.Area, &s.Rank, &s.HolderID, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSlot writes the slot row for its key. The primary key on
// (category_id, area, rank) is the backstop for the one-holder invariant;
// an expired previous holder is simply overwritten.
func (r *PGRepo) UpsertSlot(ctx context.Context, s market.PositionSlot) error {
	_, err := r.querier(ctx).Exec(ctx, `
		INSERT INTO position_slots(category_id, area, rank, holder_id, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (category_id, area, rank)
		DO UPDATE SET holder_id=EXCLUDED.holder_id, expires_at=EXCLUDED.expires_at, created_at=EXCLUDED.created_at`,
		s.CategoryID, s.Area, s.Rank, s.HolderID, s.ExpiresAt, s.CreatedAt)
	return err
}

func (r *PGRepo) VacateSlot(ctx context.Context, categoryID, area string, rank market.Rank, holderID string) error {
	_, err := r.querier(ctx).Exec(ctx, `
		DELETE FROM position_slots
		WHERE category_id=$1 AND area=$2 AND rank=$3 AND holder_id=$4`,
		categoryID, area, rank, holderID)
	return err
}
