package leads

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskora/marketplace/internal/market"
)

type PGRepo struct{ DB *pgxpool.Pool }

func (r *PGRepo) CreateLead(ctx context.Context, l market.Lead) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO leads(id, customer_id, category_id, area, budget_min_paise, budget_max_paise,
			description, status, accepted_by, customer_contact, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		l.ID, l.CustomerID, l.CategoryID, l.Area, l.BudgetMinPaise, l.BudgetMaxPaise,
		l.Description, l.Status, l.AcceptedBy, l.CustomerContact, l.CreatedAt, l.UpdatedAt)
	return err
}

func (r *PGRepo) GetLead(ctx context.Context, id string) (market.Lead, error) {
	var l market.Lead
	err := r.DB.QueryRow(ctx, `
		SELECT id, customer_id, category_id, area, budget_min_paise, budget_max_paise,
			description, status, accepted_by, customer_contact, created_at, updated_at
		FROM leads WHERE id=$1`, id).
		Scan(&l.ID, &l.CustomerID, &l.CategoryID, &l.Area, &l.BudgetMinPaise, &l.BudgetMaxPaise,
			&l.Description, &l.Status, &l.AcceptedBy, &l.CustomerContact, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Lead{}, market.ErrLeadNotFound
	}
	return l, err
}

// AcceptLead is the whole race in one statement: the conditional UPDATE
// is the atomic check-and-set, so at most one caller ever sees a row
// changed.
func (r *PGRepo) AcceptLead(ctx context.Context, id, freelancerID string, now time.Time) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE leads SET status=$3, accepted_by=$2, updated_at=$4
		WHERE id=$1 AND status=$5`,
		id, freelancerID, market.LeadAccepted, now, market.LeadOpen)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PGRepo) WithdrawLead(ctx context.Context, id, customerID string, now time.Time) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE leads SET status=$3, updated_at=$4
		WHERE id=$1 AND customer_id=$2 AND status=$5`,
		id, customerID, market.LeadWithdrawn, now, market.LeadOpen)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// ExpireLeads sweeps in one CAS statement and reports which leads
// turned over, so the caller can emit one event per lead.
func (r *PGRepo) ExpireLeads(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE leads SET status=$1, updated_at=$2
		WHERE status=$3 AND created_at <= $4
		RETURNING id`,
		market.LeadExpired, now, market.LeadOpen, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
