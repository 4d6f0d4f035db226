package db

import (
	"context"

	"medcase/internal/types"
)

// JobHistoryRepo provides data access for the job_history table. Sweep runs
// record their outcome here for operational visibility; sweep-path errors are
// never surfaced to any user-facing response.
type JobHistoryRepo struct {
	db DBTX
}

// NewJobHistoryRepo creates a new JobHistoryRepo backed by the given database
// connection.
func NewJobHistoryRepo(db DBTX) *JobHistoryRepo {
	return &JobHistoryRepo{db: db}
}

// Start inserts a new job_history row with status 'running' and returns the
// generated id, which the caller passes to Finish with the outcome.
func (r *JobHistoryRepo) Start(ctx context.Context, jobType string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		jobType,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish records the final status ('success' or 'failed'), the number of
// records processed, and the error message if any.
func (r *JobHistoryRepo) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	var errMsg *string
	if jobErr != nil {
		s := jobErr.Error()
		errMsg = &s
	}
	_, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = NOW(), status = $2, items_processed = $3, error = $4
		 WHERE id = $1`,
		id, status, items, errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	return nil
}
