package payments

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskora/marketplace/internal/market"
)

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

func (r *PGRepo) querier(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.DB
}

const orderColumns = `id, freelancer_id, purpose, amount_paise, badge_type,
	category_id, area, rank, reservation_id, status,
	gateway_order_id, gateway_payment_id, gateway_signature,
	needs_reconciliation, created_at, updated_at`

func scanOrder(row pgx.Row) (market.PaymentOrder, error) {
	var o market.PaymentOrder
	err := row.Scan(&o.ID, &o.FreelancerID, &o.Purpose, &o.AmountPaise, &o.BadgeType,
		&o.CategoryID, &o.Area, &o.Rank, &o.ReservationID, &o.Status,
		&o.GatewayOrderID, &o.GatewayPaymentID, &o.GatewaySignature,
		&o.NeedsReconciliation, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *PGRepo) CreateOrder(ctx context.Context, o market.PaymentOrder) error {
	_, err := r.querier(ctx).Exec(ctx, `
		INSERT INTO payment_orders(`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		o.ID, o.FreelancerID, o.Purpose, o.AmountPaise, o.BadgeType,
		o.CategoryID, o.Area, o.Rank, o.ReservationID, o.Status,
		o.GatewayOrderID, o.GatewayPaymentID, o.GatewaySignature,
		o.NeedsReconciliation, o.CreatedAt, o.UpdatedAt)
	return err
}

func (r *PGRepo) GetOrder(ctx context.Context, id string) (market.PaymentOrder, error) {
	o, err := scanOrder(r.querier(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM payment_orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return market.PaymentOrder{}, market.ErrOrderNotFound
	}
	return o, err
}

// GetOrderByGatewayIDForUpdate locks the order row so concurrent
// callback deliveries for the same order serialize.
func (r *PGRepo) GetOrderByGatewayIDForUpdate(ctx context.Context, gatewayOrderID string) (market.PaymentOrder, error) {
	o, err := scanOrder(r.querier(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM payment_orders WHERE gateway_order_id=$1 FOR UPDATE`, gatewayOrderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return market.PaymentOrder{}, market.ErrOrderNotFound
	}
	return o, err
}

func (r *PGRepo) UpdateOrder(ctx context.Context, o market.PaymentOrder) error {
	_, err := r.querier(ctx).Exec(ctx, `
		UPDATE payment_orders
		SET status=$2, gateway_payment_id=$3, gateway_signature=$4,
		    needs_reconciliation=$5, updated_at=$6
		WHERE id=$1`,
		o.ID, o.Status, o.GatewayPaymentID, o.GatewaySignature,
		o.NeedsReconciliation, o.UpdatedAt)
	return err
}

// StaleReservedOrders returns RESERVED orders whose hold has lapsed.
func (r *PGRepo) StaleReservedOrders(ctx context.Context, now time.Time) ([]market.PaymentOrder, error) {
	rows, err := r.querier(ctx).Query(ctx, `
		SELECT o.id, o.freelancer_id, o.purpose, o.amount_paise, o.badge_type,
			o.category_id, o.area, o.rank, o.reservation_id, o.status,
			o.gateway_order_id, o.gateway_payment_id, o.gateway_signature,
			o.needs_reconciliation, o.created_at, o.updated_at
		FROM payment_orders o
		JOIN slot_reservations sr ON sr.id = o.reservation_id
		WHERE o.status='RESERVED' AND sr.status='HELD' AND sr.expires_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.PaymentOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
