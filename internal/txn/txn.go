// Package txn models the store's only consistency primitive: a transaction that
// reads a fixed set of documents and then commits writes conditionally on those
// reads being unchanged. Conflicts surface as ErrConflict and are retried by Runner.
package txn

import (
	"context"
	"errors"
	"learnhub_backend/internal/model"
)

var (
	ErrConflict        = errors.New("txn: write conflict")
	ErrReadAfterCommit = errors.New("txn: read after commit")
	ErrUnreadWrite     = errors.New("txn: write to a document that was not read")
	ErrClosed          = errors.New("txn: transaction already committed")
)

type EnrollmentKey struct {
	UserID   string
	CourseID string
}

// ReadSet 一次事务要读取的全部文档
type ReadSet struct {
	UserID     string
	Enrollment EnrollmentKey
}

// Snapshot 中的 nil 表示文档不存在；返回的对象为副本，可直接修改后写回
type Snapshot struct {
	User       *model.User
	Enrollment *model.Enrollment
}

type WriteSet struct {
	User        *model.User
	Enrollment  *model.Enrollment
	XPEntries   []model.XPHistory
	CoinEntries []model.CoinHistory
}

func (w *WriteSet) Empty() bool {
	return w.User == nil && w.Enrollment == nil && len(w.XPEntries) == 0 && len(w.CoinEntries) == 0
}

type Reader interface {
	ReadAll(ctx context.Context, rs ReadSet) (*Snapshot, error)
}

// Tx 必须先 ReadAll 再 Commit；Commit 之后的任何读写都会返回错误
type Tx interface {
	Reader
	Commit(ctx context.Context, ws WriteSet) error
}

type Store interface {
	Begin(ctx context.Context) (Tx, error)
}
