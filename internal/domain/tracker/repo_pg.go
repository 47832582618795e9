package tracker

import (
	"context"
	"fmt"

	"github.com/ehr/notemigrate/internal/platform/db"
)

type storePG struct {
	db db.Querier
}

// NewStore returns the Postgres-backed Store.
func NewStore(q db.Querier) Store {
	return &storePG{db: q}
}

func (s *storePG) InsertReturningID(ctx context.Context, statement string) (int64, error) {
	var id int64
	if err := s.db.QueryRow(ctx, statement).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *storePG) DeleteByID(ctx context.Context, id int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM patient_notes WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete note row %d: %w", id, err)
	}
	return tag.RowsAffected(), nil
}

func (s *storePG) DeleteByPatientAndDate(ctx context.Context, patientID int64, createdAt string) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM patient_notes WHERE patient_id = $1 AND created_at::date = ($2::timestamptz)::date`,
		patientID, createdAt)
	if err != nil {
		return 0, fmt.Errorf("delete notes of patient %d on %s: %w", patientID, createdAt, err)
	}
	return tag.RowsAffected(), nil
}

func (s *storePG) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM patient_notes`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
