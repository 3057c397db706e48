// Package events carries post-commit notifications from the progress engine and the
// syllabus builder to whoever renders or caches views of that data.
package events

import (
	"context"
	"encoding/json"
	"learnhub_backend/pkg/logger"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type Type string

const (
	LessonCompleted Type = "lesson.completed"
	QuizPassed      Type = "quiz.passed"
	CourseCompleted Type = "course.completed"
	UserLeveledUp   Type = "user.leveled_up"
	SyllabusRebuilt Type = "syllabus.rebuilt"
)

type Event struct {
	Type       Type      `json:"type"`
	UserID     string    `json:"userId,omitempty"`
	CourseID   string    `json:"courseId"`
	ModuleID   string    `json:"moduleId,omitempty"`
	LessonID   string    `json:"lessonId,omitempty"`
	Level      int       `json:"level,omitempty"`
	Progress   int       `json:"progress,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher 只在提交成功之后调用；发布失败不影响已提交的结果
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Func func(ctx context.Context, e Event) error

func (f Func) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, e Event) error {
	logger.Log.Info("domain event",
		zap.String("type", string(e.Type)),
		zap.String("userId", e.UserID),
		zap.String("courseId", e.CourseID),
		zap.String("moduleId", e.ModuleID),
		zap.String("lessonId", e.LessonID),
	)
	return nil
}

// RedisPublisher 以 JSON 发布到频道，前端缓存层订阅后自行失效
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, payload).Err()
}

// Multi 依次投递给所有发布者，单个失败只记录日志
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			logger.Log.Warn("event publish failed", zap.String("type", string(e.Type)), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Recorder 收集事件，供测试和调试使用
type Recorder struct {
	events chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{events: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	select {
	case r.events <- e:
	default:
	}
	return nil
}

func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
