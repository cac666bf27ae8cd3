package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/models"
)

// Queue entry statuses.
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCancelled  = "cancelled"
)

// QueuedJob is one persisted queue entry.
type QueuedJob struct {
	ID        int64
	JobID     string
	URL       string
	Options   models.AuditOptions
	CreatedAt time.Time
	Status    string
}

// QueueStats counts entries per status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Cancelled  int `json:"cancelled"`
}

// QueueStorage is the persistent overflow queue backed by the audit_queue
// table. Entries survive restarts; RequeueProcessing recovers work that was
// in flight when the process died.
type QueueStorage struct {
	db      *DB
	maxSize int
	logger  arbor.ILogger
}

// NewQueueStorage creates a queue bounded at maxSize pending entries.
func NewQueueStorage(logger arbor.ILogger, db *DB, maxSize int) *QueueStorage {
	return &QueueStorage{
		db:      db,
		maxSize: maxSize,
		logger:  logger,
	}
}

// MaxSize returns the pending-entry bound.
func (q *QueueStorage) MaxSize() int {
	return q.maxSize
}

// Enqueue appends a job and returns its 1-based queue position. Returns
// (0, nil) when the queue is full.
func (q *QueueStorage) Enqueue(jobID, url string, options models.AuditOptions) (int, error) {
	db, err := q.db.Handle()
	if err != nil {
		return 0, err
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var pending int
	if err := tx.QueryRow("SELECT COUNT(*) FROM audit_queue WHERE status = 'pending'").Scan(&pending); err != nil {
		return 0, err
	}
	if pending >= q.maxSize {
		return 0, nil
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(
		"INSERT INTO audit_queue (job_id, url, options, status) VALUES (?, ?, ?, 'pending')",
		jobID, url, string(optionsJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return pending + 1, nil
}

// Dequeue removes the oldest pending entry, marking it processing in the
// same transaction. Returns nil when the queue is empty.
func (q *QueueStorage) Dequeue() (*QueuedJob, error) {
	db, err := q.db.Handle()
	if err != nil {
		return nil, err
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var job QueuedJob
	var optionsJSON sql.NullString
	var createdAt string
	row := tx.QueryRow(
		`SELECT id, job_id, url, options, created_at
		 FROM audit_queue WHERE status = 'pending'
		 ORDER BY created_at ASC, id ASC LIMIT 1`,
	)
	if err := row.Scan(&job.ID, &job.JobID, &job.URL, &optionsJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := tx.Exec("UPDATE audit_queue SET status = 'processing' WHERE id = ?", job.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if optionsJSON.Valid && optionsJSON.String != "" {
		json.Unmarshal([]byte(optionsJSON.String), &job.Options)
	}
	if t, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
		job.CreatedAt = t.UTC()
	}
	job.Status = QueueStatusProcessing
	return &job, nil
}

// Remove deletes an entry regardless of status. Returns true if it existed.
func (q *QueueStorage) Remove(jobID string) (bool, error) {
	db, err := q.db.Handle()
	if err != nil {
		return false, err
	}

	result, err := db.Exec("DELETE FROM audit_queue WHERE job_id = ?", jobID)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// Cancel marks a pending entry cancelled. Entries already processing cannot
// be cancelled. Returns true if the transition happened.
func (q *QueueStorage) Cancel(jobID string) (bool, error) {
	db, err := q.db.Handle()
	if err != nil {
		return false, err
	}

	result, err := db.Exec(
		"UPDATE audit_queue SET status = 'cancelled' WHERE job_id = ? AND status = 'pending'",
		jobID,
	)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// Position returns the 1-based position of a pending entry, or 0 if the job
// is not pending.
func (q *QueueStorage) Position(jobID string) (int, error) {
	db, err := q.db.Handle()
	if err != nil {
		return 0, err
	}

	var id int64
	err = db.QueryRow(
		"SELECT id FROM audit_queue WHERE job_id = ? AND status = 'pending'", jobID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}

	var position int
	err = db.QueryRow(
		"SELECT COUNT(*) FROM audit_queue WHERE status = 'pending' AND id <= ?", id,
	).Scan(&position)
	if err != nil {
		return 0, err
	}
	return position, nil
}

// Size returns the number of pending entries.
func (q *QueueStorage) Size() (int, error) {
	db, err := q.db.Handle()
	if err != nil {
		return 0, err
	}

	var size int
	err = db.QueryRow("SELECT COUNT(*) FROM audit_queue WHERE status = 'pending'").Scan(&size)
	return size, err
}

// Stats counts entries grouped by status.
func (q *QueueStorage) Stats() (QueueStats, error) {
	var stats QueueStats
	db, err := q.db.Handle()
	if err != nil {
		return stats, err
	}

	rows, err := db.Query("SELECT status, COUNT(*) FROM audit_queue GROUP BY status")
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		switch status {
		case QueueStatusPending:
			stats.Pending = count
		case QueueStatusProcessing:
			stats.Processing = count
		case QueueStatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

// RequeueProcessing moves processing entries back to pending. Called once at
// startup to recover from a crash.
func (q *QueueStorage) RequeueProcessing() (int, error) {
	db, err := q.db.Handle()
	if err != nil {
		return 0, err
	}

	result, err := db.Exec("UPDATE audit_queue SET status = 'pending' WHERE status = 'processing'")
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	if affected > 0 {
		q.logger.Info().Int64("count", affected).Msg("Requeued interrupted jobs")
	}
	return int(affected), nil
}

// CleanupStale deletes processing and cancelled entries older than maxAge.
func (q *QueueStorage) CleanupStale(maxAge time.Duration) (int, error) {
	db, err := q.db.Handle()
	if err != nil {
		return 0, err
	}

	result, err := db.Exec(
		`DELETE FROM audit_queue
		 WHERE (status = 'processing' OR status = 'cancelled')
		 AND created_at < datetime('now', ?)`,
		fmt.Sprintf("-%d seconds", int(maxAge.Seconds())),
	)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}
