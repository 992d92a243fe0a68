package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/common"
	"github.com/joseph-ayodele/docanalysis/internal/entity"
)

// AnalysisJobRepository is the job ledger. Only bookkeeping is stored, never results.
type AnalysisJobRepository interface {
	SaveJob(ctx context.Context, job entity.AnalysisJob) error
	GetJob(ctx context.Context, id string) (*entity.AnalysisJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]entity.AnalysisJob, error)
	// FindLatestByHash returns the newest job for the content hash with the given status.
	FindLatestByHash(ctx context.Context, hash string, status constants.JobStatus) (*entity.AnalysisJob, error)
}

// JobFilter narrows ListJobs; zero values match everything.
type JobFilter struct {
	Status constants.JobStatus
	Since  time.Time
	Limit  int
}

type analysisJobRepo struct {
	db  *DB
	log *slog.Logger
}

func NewAnalysisJobRepository(db *DB, log *slog.Logger) AnalysisJobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &analysisJobRepo{db: db, log: log}
}

const jobColumns = `id, operation_location, status, file_name, content_type, file_size, content_hash,
	submitted_at, last_polled_at, finished_at, polls, error_kind, error_message, page_count`

// SaveJob inserts the job or replaces the stored state of the same id.
func (r *analysisJobRepo) SaveJob(ctx context.Context, job entity.AnalysisJob) error {
	if job.ID == "" {
		return common.NewAppError("INVALID_INPUT", "job id is required", common.ErrInvalidInput)
	}
	q := r.db.rebind(`INSERT INTO analysis_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			operation_location = excluded.operation_location,
			status = excluded.status,
			last_polled_at = excluded.last_polled_at,
			finished_at = excluded.finished_at,
			polls = excluded.polls,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			page_count = excluded.page_count`)

	_, err := r.db.SQL.ExecContext(ctx, q,
		job.ID,
		job.OperationLocation,
		string(job.Status),
		job.FileName,
		job.ContentType,
		int64(job.FileSize),
		job.ContentHash,
		job.SubmittedAt.UTC(),
		nullTime(job.LastPolledAt),
		nullTime(job.FinishedAt),
		job.Polls,
		nullString(job.ErrorKind),
		nullString(job.ErrorMessage),
		nullInt(job.PageCount),
	)
	if err != nil {
		r.log.Error("analysis_job save failed", "job_id", job.ID, "status", job.Status, "err", err)
		return common.NewAppError("DATABASE_ERROR", "save analysis job", errors.Join(common.ErrDatabase, err))
	}
	r.log.Debug("analysis_job saved", "job_id", job.ID, "status", job.Status, "polls", job.Polls)
	return nil
}

func (r *analysisJobRepo) GetJob(ctx context.Context, id string) (*entity.AnalysisJob, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.db.rebind(`SELECT `+jobColumns+` FROM analysis_jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("analysis job %s", id), common.ErrNotFound)
	}
	if err != nil {
		r.log.Error("analysis_job get failed", "job_id", id, "err", err)
		return nil, common.NewAppError("DATABASE_ERROR", "get analysis job", errors.Join(common.ErrDatabase, err))
	}
	return job, nil
}

func (r *analysisJobRepo) FindLatestByHash(ctx context.Context, hash string, status constants.JobStatus) (*entity.AnalysisJob, error) {
	q := r.db.rebind(`SELECT ` + jobColumns + ` FROM analysis_jobs
		WHERE content_hash = ? AND status = ? ORDER BY submitted_at DESC LIMIT 1`)
	job, err := scanJob(r.db.SQL.QueryRowContext(ctx, q, hash, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("NOT_FOUND", "analysis job by hash", common.ErrNotFound)
	}
	if err != nil {
		r.log.Error("analysis_job find by hash failed", "hash", hash, "err", err)
		return nil, common.NewAppError("DATABASE_ERROR", "find analysis job", errors.Join(common.ErrDatabase, err))
	}
	return job, nil
}

// ListJobs returns the newest jobs first.
func (r *analysisJobRepo) ListJobs(ctx context.Context, filter JobFilter) ([]entity.AnalysisJob, error) {
	q := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		q += ` AND submitted_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	q += ` ORDER BY submitted_at DESC, id`
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(q), args...)
	if err != nil {
		r.log.Error("analysis_job list failed", "err", err)
		return nil, common.NewAppError("DATABASE_ERROR", "list analysis jobs", errors.Join(common.ErrDatabase, err))
	}
	defer rows.Close()

	var out []entity.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, common.NewAppError("DATABASE_ERROR", "scan analysis job", errors.Join(common.ErrDatabase, err))
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewAppError("DATABASE_ERROR", "list analysis jobs", errors.Join(common.ErrDatabase, err))
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*entity.AnalysisJob, error) {
	var (
		job                  entity.AnalysisJob
		status               string
		fileSize             int64
		lastPolled, finished sql.NullTime
		errKind, errMsg      sql.NullString
		pages                sql.NullInt64
	)
	if err := s.Scan(
		&job.ID,
		&job.OperationLocation,
		&status,
		&job.FileName,
		&job.ContentType,
		&fileSize,
		&job.ContentHash,
		&job.SubmittedAt,
		&lastPolled,
		&finished,
		&job.Polls,
		&errKind,
		&errMsg,
		&pages,
	); err != nil {
		return nil, err
	}
	job.Status = constants.JobStatus(status)
	job.FileSize = int(fileSize)
	if lastPolled.Valid {
		t := lastPolled.Time
		job.LastPolledAt = &t
	}
	if finished.Valid {
		t := finished.Time
		job.FinishedAt = &t
	}
	if errKind.Valid {
		job.ErrorKind = &errKind.String
	}
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	if pages.Valid {
		n := int(pages.Int64)
		job.PageCount = &n
	}
	return &job, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
