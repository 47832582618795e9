package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ehr/notemigrate/internal/platform/db"
)

type repoPG struct {
	db db.Querier
}

func NewRepo(q db.Querier) Repository {
	return &repoPG{db: q}
}

func (r *repoPG) PatientIDByExternalID(ctx context.Context, externalID string) (int64, bool, error) {
	return r.lookup(ctx, `SELECT id FROM patients WHERE external_id = $1 LIMIT 1`, externalID, "patient")
}

func (r *repoPG) UserIDByAccountID(ctx context.Context, accountID string) (int64, bool, error) {
	return r.lookup(ctx, `SELECT id FROM users WHERE adracare_account_id = $1 LIMIT 1`, accountID, "user")
}

func (r *repoPG) lookup(ctx context.Context, query, key, kind string) (int64, bool, error) {
	var id int64
	err := r.db.QueryRow(ctx, query, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s %q: %w", kind, key, err)
	}
	return id, true, nil
}
