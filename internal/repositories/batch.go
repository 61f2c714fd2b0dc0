package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrBatchConflict 表示批次中的条件写未命中任何行（例如会话已不在 running），整个批次被回滚。
var ErrBatchConflict = errors.New("write batch guard matched no rows")

type batchOp struct {
	name    string
	guarded bool
}

// WriteBatch 收集需要原子提交的写操作，由 JobRepository.Commit 在单个事务内执行。
type WriteBatch struct {
	batch pgx.Batch
	ops   []batchOp
}

// NewWriteBatch 创建空批次。
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

// Len 返回已排队的语句数。
func (b *WriteBatch) Len() int {
	return len(b.ops)
}

func (b *WriteBatch) queue(name, sql string, args ...any) {
	b.batch.Queue(sql, args...)
	b.ops = append(b.ops, batchOp{name: name})
}

// queueGuarded 排入一条必须影响至少一行的语句。
func (b *WriteBatch) queueGuarded(name, sql string, args ...any) {
	b.batch.Queue(sql, args...)
	b.ops = append(b.ops, batchOp{name: name, guarded: true})
}

func (b *WriteBatch) exec(ctx context.Context, tx pgx.Tx) error {
	results := tx.SendBatch(ctx, &b.batch)
	for _, op := range b.ops {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return fmt.Errorf("%s: %w", op.name, err)
		}
		if op.guarded && tag.RowsAffected() == 0 {
			_ = results.Close()
			return fmt.Errorf("%s: %w", op.name, ErrBatchConflict)
		}
	}
	return results.Close()
}
