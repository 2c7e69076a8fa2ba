package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGMatcher matches on the freelancer profile's declared category+area
// and gates on an active lead plan, so the fan-out never targets
// someone who could not accept anyway.
type PGMatcher struct{ DB *pgxpool.Pool }

func (m *PGMatcher) EligibleFreelancers(ctx context.Context, categoryID, area string, now time.Time) ([]string, error) {
	rows, err := m.DB.Query(ctx, `
		SELECT p.freelancer_id
		FROM freelancer_profiles p
		JOIN entitlements e
		  ON e.freelancer_id = p.freelancer_id
		 AND e.plan = 'lead'
		 AND e.end_date > $3
		WHERE p.category_id = $1 AND p.area = $2`,
		categoryID, area, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
