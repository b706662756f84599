package postgres

import (
	"context"
	"database/sql"

	"github.com/citewise/citewise/internal/models"
)

type IntakeStore struct {
	db *sql.DB
}

func NewIntakeStore(db *sql.DB) *IntakeStore {
	return &IntakeStore{db: db}
}

const intakeColumns = `id, public_id, citation_number, city_id, section_id, violation_date,
	contact_name, contact_line1, contact_line2, contact_city, contact_state, contact_zip,
	vehicle_description, status, created_at, updated_at`

func scanIntake(row *sql.Row) (*models.Intake, error) {
	in := &models.Intake{}
	err := row.Scan(
		&in.ID, &in.PublicID, &in.CitationNumber, &in.CityID, &in.SectionID, &in.ViolationDate,
		&in.ContactName, &in.ContactLine1, &in.ContactLine2, &in.ContactCity, &in.ContactState, &in.ContactZip,
		&in.VehicleDescription, &in.Status, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (s *IntakeStore) CreateIntake(ctx context.Context, p models.IntakeCreateParams) (*models.Intake, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO intakes (citation_number, city_id, section_id, violation_date,
			contact_name, contact_line1, contact_line2, contact_city, contact_state, contact_zip,
			vehicle_description, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'created')
		 RETURNING `+intakeColumns,
		p.CitationNumber, p.CityID, p.SectionID, p.ViolationDate,
		p.ContactName, p.ContactLine1, p.ContactLine2, p.ContactCity, p.ContactState, p.ContactZip,
		p.VehicleDescription,
	)
	return scanIntake(row)
}

func (s *IntakeStore) GetIntakeByID(ctx context.Context, id int64) (*models.Intake, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+intakeColumns+` FROM intakes WHERE id = $1`, id)
	return scanIntake(row)
}

func (s *IntakeStore) UpdateIntakeStatus(ctx context.Context, id int64, fromStatus, toStatus string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE intakes
		 SET status = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		id, fromStatus, toStatus,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
