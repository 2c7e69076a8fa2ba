package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskora/marketplace/internal/market"
)

type PGRepo struct{ DB *pgxpool.Pool }

func (r *PGRepo) ActiveEntitlement(ctx context.Context, freelancerID string, plan market.Plan, scope Scope, now time.Time) (*market.Entitlement, error) {
	var e market.Entitlement
	err := r.DB.QueryRow(ctx, `
		SELECT id, freelancer_id, plan, badge_type, category_id, area, rank, end_date, created_at
		FROM entitlements
		WHERE freelancer_id=$1 AND plan=$2 AND category_id=$3 AND area=$4 AND end_date > $5
		ORDER BY end_date DESC
		LIMIT 1`,
		freelancerID, plan, scope.CategoryID, scope.Area, now).
		Scan(&e.ID, &e.FreelancerID, &e.Plan, &e.BadgeType, &e.CategoryID, &e.Area, &e.Rank, &e.EndDate, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Upsert supersedes on the (freelancer_id, plan, category_id, area)
// unique index; renewal replaces rather than stacks.
func (r *PGRepo) Upsert(ctx context.Context, e market.Entitlement) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO entitlements(id, freelancer_id, plan, badge_type, category_id, area, rank, end_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (freelancer_id, plan, category_id, area)
		DO UPDATE SET id=EXCLUDED.id, badge_type=EXCLUDED.badge_type, rank=EXCLUDED.rank,
			end_date=EXCLUDED.end_date, created_at=EXCLUDED.created_at`,
		e.ID, e.FreelancerID, e.Plan, e.BadgeType, e.CategoryID, e.Area, e.Rank, e.EndDate, e.CreatedAt)
	return err
}

func (r *PGRepo) Revoke(ctx context.Context, freelancerID string, plan market.Plan, scope Scope) error {
	_, err := r.DB.Exec(ctx, `
		DELETE FROM entitlements
		WHERE freelancer_id=$1 AND plan=$2 AND category_id=$3 AND area=$4`,
		freelancerID, plan, scope.CategoryID, scope.Area)
	return err
}

// LapsedPositionEntitlements returns ended position entitlements whose
// slot row still exists, so the sweep only touches work left to do.
func (r *PGRepo) LapsedPositionEntitlements(ctx context.Context, now time.Time) ([]market.Entitlement, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT e.id, e.freelancer_id, e.plan, e.badge_type, e.category_id, e.area, e.rank, e.end_date, e.created_at
		FROM entitlements e
		JOIN position_slots s
		  ON s.category_id=e.category_id AND s.area=e.area AND s.rank=e.rank AND s.holder_id=e.freelancer_id
		WHERE e.plan='position' AND e.end_date <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Entitlement
	for rows.Next() {
		var e market.Entitlement
		if err := rows.Scan(&e.ID, &e.FreelancerID, &e.Plan, &e.BadgeType, &e.CategoryID, &e.Area, &e.Rank, &e.EndDate, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
