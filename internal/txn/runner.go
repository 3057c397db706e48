package txn

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy 决定冲突后的重试节奏，每次 Run 生成新的 BackOff
type RetryPolicy interface {
	NewBackOff() backoff.BackOff
}

type ExponentialRetry struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p ExponentialRetry) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, p.MaxRetries)
}

// ImmediateRetry 不等待直接重试，测试中使用
type ImmediateRetry struct {
	MaxRetries uint64
}

func (p ImmediateRetry) NewBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, p.MaxRetries)
}

// Work 只拿到只读视图；返回的写集由 Runner 提交，nil 表示无需写入
type Work func(ctx context.Context, rd Reader) (*WriteSet, error)

type Runner struct {
	store      Store
	policy     RetryPolicy
	onConflict func()
}

type RunnerOption func(*Runner)

func WithConflictHook(fn func()) RunnerOption {
	return func(r *Runner) { r.onConflict = fn }
}

func NewRunner(store Store, policy RetryPolicy, opts ...RunnerOption) *Runner {
	r := &Runner{store: store, policy: policy}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type readOnly struct {
	tx Tx
}

func (r readOnly) ReadAll(ctx context.Context, rs ReadSet) (*Snapshot, error) {
	return r.tx.ReadAll(ctx, rs)
}

// Run 执行 work 并提交；仅 ErrConflict 会触发重试，重试时 work 会重新读取
func (r *Runner) Run(ctx context.Context, work Work) error {
	op := func() error {
		tx, err := r.store.Begin(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		ws, err := work(ctx, readOnly{tx: tx})
		if err != nil {
			return backoff.Permanent(err)
		}
		if ws == nil || ws.Empty() {
			return nil
		}
		if err := tx.Commit(ctx, *ws); err != nil {
			if errors.Is(err, ErrConflict) {
				if r.onConflict != nil {
					r.onConflict()
				}
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(r.policy.NewBackOff(), ctx))
}
