package service

import (
	"context"
	"errors"
	"learnhub_backend/internal/events"
	"learnhub_backend/internal/model"
	"learnhub_backend/internal/repository"
	"learnhub_backend/internal/util"
	"learnhub_backend/pkg/clock"
	"learnhub_backend/pkg/logger"
	"learnhub_backend/pkg/monitoring"
	"learnhub_backend/pkg/tracing"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SyllabusSource 是大纲重建读取的内容存储和写入的课程聚合
type SyllabusSource interface {
	FindCourse(ctx context.Context, courseID string) (*model.Course, error)
	ListCourseIDs(ctx context.Context) ([]string, error)
	ListModules(ctx context.Context, courseID string) ([]model.Module, error)
	ListLessons(ctx context.Context, moduleID string) ([]model.Lesson, error)
	HasQuestions(ctx context.Context, moduleID string) (bool, error)
	SaveSyllabus(ctx context.Context, courseID string, agg model.SyllabusAggregate, at time.Time) error
}

type RebuildResult struct {
	CourseID             string `json:"courseId"`
	Success              bool   `json:"success"`
	ModulesCount         int    `json:"modulesCount"`
	TotalLessons         int    `json:"totalLessons"`
	TotalDurationSeconds int    `json:"totalDurationSeconds"`
	Error                string `json:"error,omitempty"`
	Err                  error  `json:"-"`
}

type SyllabusService struct {
	Content     SyllabusSource
	Publisher   events.Publisher
	Clock       clock.Clock
	Concurrency int
}

func NewSyllabusService(content SyllabusSource, publisher events.Publisher, clk clock.Clock, concurrency int) *SyllabusService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if clk == nil {
		clk = clock.System()
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &SyllabusService{
		Content:     content,
		Publisher:   publisher,
		Clock:       clk,
		Concurrency: concurrency,
	}
}

// Rebuild 从规范化内容重新计算大纲并整体覆盖课程聚合。
// 任何读取失败都不会写入；失败时旧的大纲保持不变。
func (s *SyllabusService) Rebuild(ctx context.Context, courseID string) RebuildResult {
	start := time.Now()
	ctx, span := tracing.Tracer.Start(ctx, "SyllabusService.Rebuild")
	span.SetAttributes(attribute.String("course.id", courseID))
	defer span.End()
	defer func() {
		monitoring.SyllabusRebuildDuration.Observe(time.Since(start).Seconds())
	}()

	if err := util.ValidateID(courseID); err != nil {
		return s.failed(courseID, util.Validation(util.ErrInvalidID, "courseId"))
	}

	agg, err := s.build(ctx, courseID)
	if err != nil {
		return s.failed(courseID, err)
	}

	if err := s.Content.SaveSyllabus(ctx, courseID, *agg, s.Clock.Now()); err != nil {
		return s.failed(courseID, err)
	}

	monitoring.SyllabusRebuilds.WithLabelValues("success").Inc()
	if err := s.Publisher.Publish(ctx, events.Event{
		Type:       events.SyllabusRebuilt,
		CourseID:   courseID,
		OccurredAt: s.Clock.Now(),
	}); err != nil {
		logger.Log.Warn("publish syllabus event failed", zap.String("courseId", courseID), zap.Error(err))
	}

	return RebuildResult{
		CourseID:             courseID,
		Success:              true,
		ModulesCount:         agg.ModulesCount,
		TotalLessons:         agg.TotalLessons,
		TotalDurationSeconds: agg.TotalDurationSeconds,
	}
}

// RebuildAll 逐个重建所有课程，单个课程失败不影响其他课程
func (s *SyllabusService) RebuildAll(ctx context.Context) ([]RebuildResult, error) {
	ids, err := s.Content.ListCourseIDs(ctx)
	if err != nil {
		logger.Log.Error("list courses for rebuild failed", zap.Error(err))
		return nil, util.Internal(err)
	}
	results := make([]RebuildResult, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, util.Internal(err)
		}
		results = append(results, s.Rebuild(ctx, id))
	}
	return results, nil
}

// GetSyllabus 返回缓存的课程聚合，可能短暂落后于最新的结构编辑
func (s *SyllabusService) GetSyllabus(ctx context.Context, courseID string) (*model.Course, error) {
	if err := util.ValidateID(courseID); err != nil {
		return nil, util.Validation(util.ErrInvalidID, "courseId")
	}
	course, err := s.Content.FindCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, util.NotFound(util.ErrCourseNotFound)
		}
		logger.Log.Error("load syllabus failed", zap.String("courseId", courseID), zap.Error(err))
		return nil, util.Internal(err)
	}
	if course.Syllabus == nil {
		course.Syllabus = []model.ModuleSummary{}
	}
	return course, nil
}

func (s *SyllabusService) build(ctx context.Context, courseID string) (*model.SyllabusAggregate, error) {
	if _, err := s.Content.FindCourse(ctx, courseID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, util.NotFound(util.ErrCourseNotFound)
		}
		return nil, err
	}

	modules, err := s.Content.ListModules(ctx, courseID)
	if err != nil {
		return nil, err
	}
	sortModules(modules)

	// 每个模块的结果写入自己的下标，顺序与并发完成的先后无关
	summaries := make([]model.ModuleSummary, len(modules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Concurrency)
	for i := range modules {
		i, m := i, modules[i]
		g.Go(func() error {
			lessons, err := s.Content.ListLessons(gctx, m.ID)
			if err != nil {
				return err
			}
			hasQuiz, err := s.Content.HasQuestions(gctx, m.ID)
			if err != nil {
				return err
			}
			sortLessons(lessons)
			summaries[i] = summarizeModule(m, lessons, hasQuiz)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	agg := &model.SyllabusAggregate{
		Syllabus:     summaries,
		ModulesCount: len(summaries),
	}
	for _, m := range summaries {
		agg.TotalLessons += m.LessonsCount
		agg.TotalDurationSeconds += m.DurationSeconds
	}
	return agg, nil
}

func summarizeModule(m model.Module, lessons []model.Lesson, hasQuiz bool) model.ModuleSummary {
	summary := model.ModuleSummary{
		ID:           m.ID,
		Title:        m.Title,
		Lessons:      make([]model.LessonSummary, 0, len(lessons)),
		LessonsCount: len(lessons),
		HasQuiz:      hasQuiz,
	}
	for _, l := range lessons {
		summary.Lessons = append(summary.Lessons, model.LessonSummary{
			ID:              l.ID,
			Title:           l.Title,
			DurationSeconds: l.DurationSeconds,
			IsFreePreview:   l.IsFreePreview,
		})
		summary.DurationSeconds += l.DurationSeconds
	}
	return summary
}

// 同 order 时按创建时间、再按 id 排序，保证多次重建结果一致
func orderedBefore(orderA, orderB int, createdA, createdB time.Time, idA, idB string) bool {
	if orderA != orderB {
		return orderA < orderB
	}
	if !createdA.Equal(createdB) {
		return createdA.Before(createdB)
	}
	return idA < idB
}

func sortModules(modules []model.Module) {
	sort.SliceStable(modules, func(i, j int) bool {
		a, b := modules[i], modules[j]
		return orderedBefore(a.Order, b.Order, a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
}

func sortLessons(lessons []model.Lesson) {
	sort.SliceStable(lessons, func(i, j int) bool {
		a, b := lessons[i], lessons[j]
		return orderedBefore(a.Order, b.Order, a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
}

func (s *SyllabusService) failed(courseID string, err error) RebuildResult {
	monitoring.SyllabusRebuilds.WithLabelValues("failure").Inc()

	var appErr *util.AppError
	if !errors.As(err, &appErr) || appErr.Kind == util.KindInternal {
		logger.Log.Error("syllabus rebuild failed", zap.String("courseId", courseID), zap.Error(err))
		appErr = util.Internal(err)
	}
	return RebuildResult{
		CourseID: courseID,
		Success:  false,
		Error:    appErr.Message,
		Err:      appErr,
	}
}
