package trx

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-trx/server/innodb/lock"
)

// 并发冲突错误，调用方回滚后可以重试
var (
	ErrWriteConflict     = errors.New("write conflict")
	ErrLockTimeout       = lock.ErrLockTimeout
	ErrDeadlock          = lock.ErrDeadlock
	ErrDuplicatePosition = errors.New("duplicate row position")
)

// 事务状态错误
var (
	ErrRowNotFound         = errors.New("row not found or not visible")
	ErrTransactionAborted  = errors.New("transaction aborted")
	ErrSessionClosed       = errors.New("session closed")
	ErrReadOnlyTransaction = errors.New("cannot modify data in a read-only transaction")
	ErrInvalidSavepoint    = errors.New("invalid savepoint")
)

// ErrInvariantViolation 内部不一致，不可恢复
var ErrInvariantViolation = errors.New("transaction invariant violation")

// IsRecoverable 判断错误是否可以通过回滚并重试事务来恢复
func IsRecoverable(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrInvariantViolation):
		return false
	case errors.Is(err, ErrWriteConflict),
		errors.Is(err, ErrLockTimeout),
		errors.Is(err, ErrDeadlock),
		errors.Is(err, lock.ErrLockAborted),
		errors.Is(err, ErrDuplicatePosition),
		errors.Is(err, ErrTransactionAborted):
		return true
	}
	return false
}

func invariantf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvariantViolation, format, args...)
}

// ErrManagerClosed 事务管理器已关闭
var ErrManagerClosed = errors.New("transaction manager closed")
