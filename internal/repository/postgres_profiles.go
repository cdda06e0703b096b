package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-bioauth/internal/models"
)

// PostgresProfileRepository 档案仓库的 PostgreSQL 实现
// 与 MemoryProfileRepository 接口一致，由 STORAGE_BACKEND 配置选择
type PostgresProfileRepository struct {
	db *sql.DB
}

// 确保实现了接口
var _ ProfileRepository = (*PostgresProfileRepository)(nil)

// NewPostgresProfileRepository 创建档案仓库
func NewPostgresProfileRepository(db *sql.DB) *PostgresProfileRepository {
	return &PostgresProfileRepository{db: db}
}

// EnsureSchema 创建档案表（幂等）
func (r *PostgresProfileRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS bioauth_profiles (
			person_id            TEXT PRIMARY KEY,
			display_name         TEXT NOT NULL,
			hr_baseline          DOUBLE PRECISION NOT NULL,
			hr_min               DOUBLE PRECISION NOT NULL,
			hr_max               DOUBLE PRECISION NOT NULL,
			hr_stddev            DOUBLE PRECISION NOT NULL,
			breathing_baseline   DOUBLE PRECISION,
			confidence_threshold DOUBLE PRECISION NOT NULL,
			has_secondary_sensor BOOLEAN NOT NULL DEFAULT FALSE,
			created_at           TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure bioauth_profiles schema: %w", err)
	}
	return nil
}

// Put 插入或整体替换档案（重新登记不与旧基线合并）
func (r *PostgresProfileRepository) Put(ctx context.Context, p models.Profile) error {
	if p.PersonID == "" {
		return fmt.Errorf("person_id is required")
	}

	query := `
		INSERT INTO bioauth_profiles (
			person_id, display_name, hr_baseline, hr_min, hr_max, hr_stddev,
			breathing_baseline, confidence_threshold, has_secondary_sensor, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (person_id) DO UPDATE SET
			display_name         = EXCLUDED.display_name,
			hr_baseline          = EXCLUDED.hr_baseline,
			hr_min               = EXCLUDED.hr_min,
			hr_max               = EXCLUDED.hr_max,
			hr_stddev            = EXCLUDED.hr_stddev,
			breathing_baseline   = EXCLUDED.breathing_baseline,
			confidence_threshold = EXCLUDED.confidence_threshold,
			has_secondary_sensor = EXCLUDED.has_secondary_sensor,
			created_at           = EXCLUDED.created_at
	`
	_, err := r.db.ExecContext(ctx, query,
		p.PersonID,
		p.DisplayName,
		p.HeartRateBaseline,
		p.HeartRateMin,
		p.HeartRateMax,
		p.HeartRateStdDev,
		nullableFloat(p.BreathingBaseline),
		p.ConfidenceThreshold,
		p.HasSecondarySensor,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put profile %s: %w", p.PersonID, err)
	}
	return nil
}

// Get 按 person_id 查询档案，不存在时返回 (nil, nil)
func (r *PostgresProfileRepository) Get(ctx context.Context, personID string) (*models.Profile, error) {
	if personID == "" {
		return nil, fmt.Errorf("person_id is required")
	}

	query := selectProfiles + ` WHERE person_id = $1`

	p, err := scanProfile(r.db.QueryRowContext(ctx, query, personID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile %s: %w", personID, err)
	}
	return p, nil
}

// All 返回全部档案
func (r *PostgresProfileRepository) All(ctx context.Context) ([]models.Profile, error) {
	query := selectProfiles + ` ORDER BY person_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// Clear 删除全部档案
func (r *PostgresProfileRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM bioauth_profiles`); err != nil {
		return fmt.Errorf("failed to clear profiles: %w", err)
	}
	return nil
}

const selectProfiles = `
	SELECT
		person_id,
		display_name,
		hr_baseline,
		hr_min,
		hr_max,
		hr_stddev,
		breathing_baseline,
		confidence_threshold,
		has_secondary_sensor,
		created_at
	FROM bioauth_profiles`

// rowScanner 兼容 *sql.Row 与 *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	var breathing sql.NullFloat64
	if err := row.Scan(
		&p.PersonID,
		&p.DisplayName,
		&p.HeartRateBaseline,
		&p.HeartRateMin,
		&p.HeartRateMax,
		&p.HeartRateStdDev,
		&breathing,
		&p.ConfidenceThreshold,
		&p.HasSecondarySensor,
		&p.CreatedAt,
	); err != nil {
		return nil, err
	}
	if breathing.Valid {
		p.BreathingBaseline = &breathing.Float64
	}
	return &p, nil
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
