package postgres

import (
	"context"
	"database/sql"

	"github.com/citewise/citewise/internal/models"
)

type DraftStore struct {
	db *sql.DB
}

func NewDraftStore(db *sql.DB) *DraftStore {
	return &DraftStore{db: db}
}

func (s *DraftStore) CreateDraft(ctx context.Context, intakeID int64, appealType, draftText string) (*models.Draft, error) {
	d := &models.Draft{}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO drafts (intake_id, appeal_type, draft_text)
		 VALUES ($1, $2, $3)
		 RETURNING id, intake_id, appeal_type, draft_text, created_at`,
		intakeID, appealType, draftText,
	).Scan(&d.ID, &d.IntakeID, &d.AppealType, &d.DraftText, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DraftStore) GetDraftByID(ctx context.Context, id int64) (*models.Draft, error) {
	d := &models.Draft{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, intake_id, appeal_type, draft_text, created_at
		 FROM drafts WHERE id = $1`, id,
	).Scan(&d.ID, &d.IntakeID, &d.AppealType, &d.DraftText, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}
