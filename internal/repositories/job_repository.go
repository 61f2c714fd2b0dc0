package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bionicotaku/lingo-services-transcription/internal/models/po"
)

// ErrJobNotFound 表示转写会话不存在。
var ErrJobNotFound = errors.New("transcription job not found")

// dbtx 是 pgxpool.Pool 与 pgx.Tx 的公共子集。
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// JobRepository 封装 transcription.jobs 表，所有状态写入都带前置状态条件，状态只会前进。
type JobRepository struct {
	db  *pgxpool.Pool
	tx  txmanager.Manager
	log *log.Helper
}

// NewJobRepository 构造 JobRepository。
func NewJobRepository(db *pgxpool.Pool, tx txmanager.Manager, logger log.Logger) *JobRepository {
	return &JobRepository{db: db, tx: tx, log: log.NewHelper(logger)}
}

func (r *JobRepository) conn(sess txmanager.Session) dbtx {
	if sess != nil {
		return sess.Tx()
	}
	return r.db
}

const ensureJobSQL = `
INSERT INTO jobs (session_id, user_id, status, transcription_prompt, created_at, updated_at)
VALUES ($1, $2, 'created', $3, $4, $4)
ON CONFLICT (session_id) DO NOTHING`

// EnsureExists 在记录不存在时创建 created 状态的会话；重复调用不报错，created 表示本次是否新建。
func (r *JobRepository) EnsureExists(ctx context.Context, sess txmanager.Session, job po.TranscriptionJob) (bool, error) {
	now := job.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	tag, err := r.conn(sess).Exec(ctx, ensureJobSQL,
		job.SessionID, job.UserID, textFromPtr(job.TranscriptionPrompt), timestamptzFromTime(now))
	if err != nil {
		r.log.WithContext(ctx).Errorf("ensure job failed: session_id=%s err=%v", job.SessionID, err)
		return false, fmt.Errorf("ensure job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const lockJobSQL = `SELECT status, updated_at FROM jobs WHERE session_id = $1 FOR UPDATE`

const startJobSQL = `UPDATE jobs SET status = 'running', updated_at = $2 WHERE session_id = $1`

// TryTransitionToRunning 在事务内锁定记录并检查是否允许进入 running。
// 不存在、已终态、或 running 且仍在 staleAfter 窗口内时返回 false 且不做任何写入。
func (r *JobRepository) TryTransitionToRunning(ctx context.Context, sessionID uuid.UUID, now time.Time, staleAfter time.Duration) (bool, error) {
	allowed := false
	err := r.tx.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		var (
			status    string
			updatedAt pgtype.Timestamptz
		)
		if err := sess.Tx().QueryRow(txCtx, lockJobSQL, sessionID).Scan(&status, &updatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("lock job: %w", err)
		}
		if !po.CanStartRunning(po.JobStatus(status), updatedAt.Time, now, staleAfter) {
			r.log.WithContext(txCtx).Debugf("job transition rejected: session_id=%s status=%s updated_at=%s",
				sessionID, status, updatedAt.Time.Format(time.RFC3339))
			return nil
		}
		if _, err := sess.Tx().Exec(txCtx, startJobSQL, sessionID, timestamptzFromTime(now)); err != nil {
			return fmt.Errorf("start job: %w", err)
		}
		allowed = true
		return nil
	})
	if err != nil {
		r.log.WithContext(ctx).Errorf("transition to running failed: session_id=%s err=%v", sessionID, err)
		return false, err
	}
	return allowed, nil
}

// DonePatch 描述 running → done 时写入的字段。
type DonePatch struct {
	SegmentFailures []po.SegmentFailure
	ExpiresAt       time.Time
	UpdatedAt       time.Time
}

const markDoneSQL = `
UPDATE jobs
SET status = 'done', segment_failures = $2, expires_at = $3, updated_at = $4
WHERE session_id = $1 AND status = 'running'`

// MarkDone 把 done 转换排入批次；提交时若记录已不在 running，整个批次回滚。
func (r *JobRepository) MarkDone(batch *WriteBatch, sessionID uuid.UUID, patch DonePatch) error {
	failures, err := encodeSegmentFailures(patch.SegmentFailures)
	if err != nil {
		return err
	}
	batch.queueGuarded("mark job done", markDoneSQL,
		sessionID, failures, timestamptzFromTime(patch.ExpiresAt), timestamptzFromTime(patch.UpdatedAt))
	return nil
}

// FailedPatch 描述进入 failed 时写入的字段。
type FailedPatch struct {
	Error           po.FailureReason
	SegmentFailures []po.SegmentFailure
	UpdatedAt       time.Time
}

const markFailedSQL = `
UPDATE jobs
SET status = 'failed', error_message = $2, error_trace = $3, segment_failures = $4, updated_at = $5
WHERE session_id = $1 AND status IN ('created', 'running')`

// MarkFailed 将会话标记为 failed；记录不存在或已终态时为空操作。
func (r *JobRepository) MarkFailed(ctx context.Context, sessionID uuid.UUID, patch FailedPatch) error {
	failures, err := encodeSegmentFailures(patch.SegmentFailures)
	if err != nil {
		return err
	}
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	tag, err := r.db.Exec(ctx, markFailedSQL, sessionID,
		patch.Error.Message, textFromString(patch.Error.Trace), failures, timestamptzFromTime(updatedAt))
	if err != nil {
		r.log.WithContext(ctx).Errorf("mark job failed: session_id=%s err=%v", sessionID, err)
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.log.WithContext(ctx).Infof("mark failed skipped, job missing or terminal: session_id=%s", sessionID)
	}
	return nil
}

// Commit 在单个事务中执行批次内的全部写入。
func (r *JobRepository) Commit(ctx context.Context, batch *WriteBatch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	err := r.tx.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		return batch.exec(txCtx, sess.Tx())
	})
	if err != nil {
		r.log.WithContext(ctx).Errorf("commit write batch failed: ops=%d err=%v", batch.Len(), err)
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

const attachTaskSQL = `UPDATE jobs SET task_name = $2 WHERE session_id = $1`

// AttachTaskName 记录持久化派发的任务句柄，不影响状态与 updated_at。
func (r *JobRepository) AttachTaskName(ctx context.Context, sessionID uuid.UUID, taskName string) error {
	tag, err := r.db.Exec(ctx, attachTaskSQL, sessionID, taskName)
	if err != nil {
		r.log.WithContext(ctx).Errorf("attach task name failed: session_id=%s err=%v", sessionID, err)
		return fmt.Errorf("attach task name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

const getJobSQL = `
SELECT session_id, user_id, status, transcription_prompt, task_name, error_message, error_trace,
       segment_failures, created_at, updated_at, expires_at
FROM jobs WHERE session_id = $1`

// Get 读取单个会话。
func (r *JobRepository) Get(ctx context.Context, sess txmanager.Session, sessionID uuid.UUID) (*po.TranscriptionJob, error) {
	var (
		job          po.TranscriptionJob
		status       string
		prompt       pgtype.Text
		taskName     pgtype.Text
		errMessage   pgtype.Text
		errTrace     pgtype.Text
		failuresJSON []byte
		createdAt    pgtype.Timestamptz
		updatedAt    pgtype.Timestamptz
		expiresAt    pgtype.Timestamptz
	)
	err := r.conn(sess).QueryRow(ctx, getJobSQL, sessionID).Scan(
		&job.SessionID, &job.UserID, &status, &prompt, &taskName, &errMessage, &errTrace,
		&failuresJSON, &createdAt, &updatedAt, &expiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		r.log.WithContext(ctx).Errorf("get job failed: session_id=%s err=%v", sessionID, err)
		return nil, fmt.Errorf("get job: %w", err)
	}

	failures, err := decodeSegmentFailures(failuresJSON)
	if err != nil {
		return nil, err
	}
	job.Status = po.JobStatus(status)
	job.TranscriptionPrompt = stringPtrFromText(prompt)
	job.TaskName = stringPtrFromText(taskName)
	if errMessage.Valid {
		job.Error = &po.FailureReason{Message: errMessage.String, Trace: errTrace.String}
	}
	job.SegmentFailures = failures
	job.CreatedAt = createdAt.Time.UTC()
	job.UpdatedAt = updatedAt.Time.UTC()
	job.ExpiresAt = timePtrFromTimestamptz(expiresAt)
	return &job, nil
}
