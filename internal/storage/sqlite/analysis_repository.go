package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Brownie44l1/xray-api/internal/analysis"
)

// DefaultLimit caps List when the filter sets no limit.
const DefaultLimit = 50

// Filter narrows List results. A zero Filter returns the newest DefaultLimit rows.
type Filter struct {
	Label  string
	Limit  int
	Offset int
}

// AnalysisRepository stores analysis reports.
type AnalysisRepository struct {
	db *DB
}

// NewAnalysisRepository creates a new SQLite analysis repository.
func NewAnalysisRepository(db *DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Insert adds a report to the history.
func (r *AnalysisRepository) Insert(ctx context.Context, report *analysis.Report) error {
	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO analyses (id, filename, format, width, height, label, positive,
			probability, confidence, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.ID, report.Filename, report.Format, report.Width, report.Height,
		report.Diagnosis.Label, report.Diagnosis.Positive, report.Diagnosis.Probability,
		report.Diagnosis.Confidence, int64(report.Duration), report.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}
	return nil
}

// GetByID returns the report with the given ID, or nil if there is none.
func (r *AnalysisRepository) GetByID(ctx context.Context, id uuid.UUID) (*analysis.Report, error) {
	row := r.db.Conn().QueryRowContext(ctx, selectAnalyses+" WHERE id = ?", id)

	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return report, nil
}

// List returns reports newest first.
func (r *AnalysisRepository) List(ctx context.Context, filter Filter) ([]analysis.Report, error) {
	query := selectAnalyses + " WHERE 1=1"
	args := []any{}

	if filter.Label != "" {
		query += " AND label = ?"
		args = append(args, filter.Label)
	}

	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	args = append(args, limit)

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	reports := []analysis.Report{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		reports = append(reports, *report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read analyses: %w", err)
	}
	return reports, nil
}

// Count returns the number of reports matching the filter's label.
func (r *AnalysisRepository) Count(ctx context.Context, filter Filter) (int, error) {
	query := "SELECT COUNT(*) FROM analyses"
	args := []any{}
	if filter.Label != "" {
		query += " WHERE label = ?"
		args = append(args, filter.Label)
	}

	var count int
	if err := r.db.Conn().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count analyses: %w", err)
	}
	return count, nil
}

// Stats aggregates the whole history.
func (r *AnalysisRepository) Stats(ctx context.Context) (analysis.Stats, error) {
	var (
		stats   analysis.Stats
		average float64
	)
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN positive THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ns), 0)
		FROM analyses
	`).Scan(&stats.Total, &stats.Pneumonia, &average)
	if err != nil {
		return analysis.Stats{}, fmt.Errorf("failed to aggregate analyses: %w", err)
	}
	stats.Normal = stats.Total - stats.Pneumonia
	stats.AverageDuration = time.Duration(average)

	if stats.Total == 0 {
		return stats, nil
	}

	var last time.Time
	err = r.db.Conn().QueryRowContext(ctx,
		"SELECT created_at FROM analyses ORDER BY created_at DESC LIMIT 1").Scan(&last)
	if err != nil {
		return analysis.Stats{}, fmt.Errorf("failed to get latest analysis: %w", err)
	}
	last = last.UTC()
	stats.LastAnalyzedAt = &last

	return stats, nil
}

// Delete removes one report. It reports whether a row was removed.
func (r *AnalysisRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.Conn().ExecContext(ctx, "DELETE FROM analyses WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete analysis: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete analysis: %w", err)
	}
	return n > 0, nil
}

// DeleteAll clears the history and returns the number of removed rows.
func (r *AnalysisRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.Conn().ExecContext(ctx, "DELETE FROM analyses")
	if err != nil {
		return 0, fmt.Errorf("failed to clear analyses: %w", err)
	}
	return result.RowsAffected()
}

const selectAnalyses = `
	SELECT id, filename, format, width, height, label, positive,
		probability, confidence, duration_ns, created_at
	FROM analyses`

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(s scanner) (*analysis.Report, error) {
	var (
		report   analysis.Report
		duration int64
	)
	err := s.Scan(&report.ID, &report.Filename, &report.Format, &report.Width, &report.Height,
		&report.Diagnosis.Label, &report.Diagnosis.Positive, &report.Diagnosis.Probability,
		&report.Diagnosis.Confidence, &duration, &report.CreatedAt)
	if err != nil {
		return nil, err
	}
	report.Duration = time.Duration(duration)
	report.CreatedAt = report.CreatedAt.UTC()
	return &report, nil
}
