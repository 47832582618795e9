package roster

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ehr/notemigrate/internal/platform/db"
)

type repoPG struct {
	db db.Querier
}

func NewRepo(q db.Querier) Repository {
	return &repoPG{db: q}
}

func (r *repoPG) ProviderIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id::text FROM users
		WHERE ab_prac_id IS NOT NULL AND ab_prac_id <> ''
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repoPG) ActiveProviders(ctx context.Context, limit int) ([]Provider, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, COALESCE(email, ''), COALESCE(first_name, ''), COALESCE(last_name, ''),
		       ab_prac_id, COALESCE(role::text, ''), COALESCE(country, '')
		FROM users
		WHERE ab_prac_id IS NOT NULL AND ab_prac_id <> '' AND active = true
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query provider details: %w", err)
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.PracID, &p.Role, &p.Country); err != nil {
			return nil, fmt.Errorf("scan provider details: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) PatientExternalIDs(ctx context.Context, providerID string) ([]string, error) {
	uid, err := strconv.ParseInt(providerID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("provider id %q is not numeric: %w", providerID, err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT p.external_id
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.user_id = $1
		  AND p.external_id IS NOT NULL AND p.external_id <> ''
		ORDER BY p.external_id`, uid)
	if err != nil {
		return nil, fmt.Errorf("query patients for provider %s: %w", providerID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan patient external id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
