package service

import (
	"context"
	"errors"
	"learnhub_backend/internal/events"
	"learnhub_backend/internal/model"
	"learnhub_backend/internal/repository"
	"learnhub_backend/internal/txn"
	"learnhub_backend/internal/util"
	"learnhub_backend/pkg/clock"
	"learnhub_backend/pkg/logger"
	"learnhub_backend/pkg/monitoring"
	"learnhub_backend/pkg/tracing"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ContentReader 进度引擎对课程内容的只读依赖
type ContentReader interface {
	FindCourse(ctx context.Context, courseID string) (*model.Course, error)
	FindModule(ctx context.Context, courseID, moduleID string) (*model.Module, error)
	FindLesson(ctx context.Context, moduleID, lessonID string) (*model.Lesson, error)
	ListQuestions(ctx context.Context, moduleID string) ([]model.Question, error)
}

type LessonOutcome struct {
	AlreadyCompleted bool                   `json:"alreadyCompleted"`
	CurrentProgress  int                    `json:"currentProgress"`
	NewProgress      int                    `json:"newProgress,omitempty"`
	Status           model.EnrollmentStatus `json:"status"`
	CourseCompleted  bool                   `json:"courseCompleted"`
	XPGranted        int                    `json:"xpGranted"`
	LeveledUp        bool                   `json:"leveledUp"`
	NewLevel         int                    `json:"newLevel"`
	CoinsGranted     int                    `json:"coinsGranted"`
}

type QuizOutcome struct {
	Passed                  bool `json:"passed"`
	ScorePercent            int  `json:"scorePercent"`
	CorrectCount            int  `json:"correctCount"`
	TotalQuestions          int  `json:"totalQuestions"`
	PassingThresholdPercent int  `json:"passingThresholdPercent"`
	AlreadyPassed           bool `json:"alreadyPassed"`
	Rewarded                bool `json:"rewarded"`
	XPGranted               int  `json:"xpGranted"`
	LeveledUp               bool `json:"leveledUp"`
	NewLevel                int  `json:"newLevel"`
	CoinsGranted            int  `json:"coinsGranted"`
}

type ProgressService struct {
	Content   ContentReader
	Store     txn.Store
	Runner    *txn.Runner
	Publisher events.Publisher
	Clock     clock.Clock
	settings  atomic.Pointer[Settings]
}

func NewProgressService(
	content ContentReader,
	store txn.Store,
	runner *txn.Runner,
	publisher events.Publisher,
	clk clock.Clock,
	settings Settings,
) *ProgressService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if clk == nil {
		clk = clock.System()
	}
	s := &ProgressService{
		Content:   content,
		Store:     store,
		Runner:    runner,
		Publisher: publisher,
		Clock:     clk,
	}
	s.UpdateSettings(settings)
	return s
}

// UpdateSettings 配置热更新时调用，已在执行中的事务继续使用旧值
func (s *ProgressService) UpdateSettings(settings Settings) {
	s.settings.Store(&settings)
}

func (s *ProgressService) Settings() Settings {
	return *s.settings.Load()
}

// CompleteLesson 将课时记为完成并发放经验。重复调用返回 AlreadyCompleted，不产生任何写入
func (s *ProgressService) CompleteLesson(ctx context.Context, userID, courseID, moduleID, lessonID string) (*LessonOutcome, error) {
	ctx, span := tracing.Tracer.Start(ctx, "ProgressService.CompleteLesson")
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("course.id", courseID),
		attribute.String("lesson.id", lessonID),
	)
	defer span.End()

	fields := []zap.Field{
		zap.String("userId", userID),
		zap.String("courseId", courseID),
		zap.String("moduleId", moduleID),
		zap.String("lessonId", lessonID),
	}

	if err := validateIDs(map[string]string{
		"userId": userID, "courseId": courseID, "moduleId": moduleID, "lessonId": lessonID,
	}); err != nil {
		return nil, s.fail("complete_lesson", err, fields)
	}

	course, err := s.findCourse(ctx, courseID)
	if err != nil {
		return nil, s.fail("complete_lesson", err, fields)
	}
	if _, err := s.findModule(ctx, courseID, moduleID); err != nil {
		return nil, s.fail("complete_lesson", err, fields)
	}
	lesson, err := s.Content.FindLesson(ctx, moduleID, lessonID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = util.NotFound(util.ErrLessonNotFound)
		}
		return nil, s.fail("complete_lesson", err, fields)
	}

	settings := s.Settings()
	xp := lesson.XPReward
	if xp <= 0 {
		xp = settings.DefaultLessonXP
	}

	key := txn.EnrollmentKey{UserID: userID, CourseID: courseID}
	var out *LessonOutcome
	err = s.Runner.Run(ctx, func(ctx context.Context, rd txn.Reader) (*txn.WriteSet, error) {
		// 每次重试都从新的快照开始
		out = nil
		snap, err := rd.ReadAll(ctx, txn.ReadSet{UserID: userID, Enrollment: key})
		if err != nil {
			return nil, err
		}
		if snap.User == nil {
			return nil, util.NotFound(util.ErrUserNotFound)
		}

		now := s.Clock.Now()
		enrollment := snap.Enrollment
		if enrollment == nil {
			enrollment = newEnrollment(userID, courseID, now)
		}
		if enrollment.HasLesson(lessonID) {
			out = &LessonOutcome{
				AlreadyCompleted: true,
				CurrentProgress:  enrollment.Progress,
				Status:           enrollment.Status,
				NewLevel:         snap.User.Level,
			}
			return nil, nil
		}

		enrollment.AddLesson(lessonID)
		progress := computeProgress(enrollment.CompletedLessonCount(), course.TotalLessons)
		if progress > enrollment.Progress {
			enrollment.Progress = progress
		}
		courseCompleted := false
		if enrollment.Progress >= 100 && enrollment.Status != model.EnrollmentCompleted {
			enrollment.Status = model.EnrollmentCompleted
			courseCompleted = true
		}
		enrollment.LastAccess = now
		enrollment.UpdatedAt = now

		user := snap.User
		r := applyReward(user, xp, settings.Rules)
		user.LessonsCompleted++
		user.UpdatedAt = now

		ws := &txn.WriteSet{
			User:       user,
			Enrollment: enrollment,
			XPEntries: []model.XPHistory{{
				ID:        model.GenerateUUID(),
				UserID:    userID,
				Amount:    xp,
				Source:    model.XPSourceLesson,
				CourseID:  courseID,
				ModuleID:  moduleID,
				LessonID:  lessonID,
				XPAfter:   user.XP,
				CreatedAt: now,
			}},
		}
		if r.Coins > 0 {
			ws.CoinEntries = []model.CoinHistory{levelUpCoins(userID, r, now)}
		}

		out = &LessonOutcome{
			CurrentProgress: enrollment.Progress,
			NewProgress:     enrollment.Progress,
			Status:          enrollment.Status,
			CourseCompleted: courseCompleted,
			XPGranted:       xp,
			LeveledUp:       r.LeveledUp,
			NewLevel:        r.NewLevel,
			CoinsGranted:    r.Coins,
		}
		return ws, nil
	})
	if err != nil {
		return nil, s.fail("complete_lesson", err, fields)
	}

	if out.AlreadyCompleted {
		monitoring.ProgressMutations.WithLabelValues("complete_lesson", "already_completed").Inc()
		return out, nil
	}

	monitoring.ProgressMutations.WithLabelValues("complete_lesson", "granted").Inc()
	monitoring.XPGranted.Add(float64(out.XPGranted))
	monitoring.CoinsGranted.Add(float64(out.CoinsGranted))
	logger.Log.Info("lesson completed", append(fields,
		zap.Int("progress", out.NewProgress),
		zap.Int("xp", out.XPGranted),
		zap.Bool("leveledUp", out.LeveledUp),
	)...)

	now := s.Clock.Now()
	s.publish(ctx, events.Event{
		Type: events.LessonCompleted, UserID: userID, CourseID: courseID,
		ModuleID: moduleID, LessonID: lessonID, Progress: out.NewProgress, OccurredAt: now,
	})
	if out.CourseCompleted {
		s.publish(ctx, events.Event{
			Type: events.CourseCompleted, UserID: userID, CourseID: courseID,
			Progress: out.NewProgress, OccurredAt: now,
		})
	}
	if out.LeveledUp {
		s.publish(ctx, events.Event{
			Type: events.UserLeveledUp, UserID: userID, CourseID: courseID,
			Level: out.NewLevel, OccurredAt: now,
		})
	}
	return out, nil
}

// SubmitQuiz 评分并在首次通过时发放测验经验。未通过或重复通过都不写入
func (s *ProgressService) SubmitQuiz(ctx context.Context, userID, courseID, moduleID string, answers map[string]string) (*QuizOutcome, error) {
	ctx, span := tracing.Tracer.Start(ctx, "ProgressService.SubmitQuiz")
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("course.id", courseID),
		attribute.String("module.id", moduleID),
	)
	defer span.End()

	fields := []zap.Field{
		zap.String("userId", userID),
		zap.String("courseId", courseID),
		zap.String("moduleId", moduleID),
	}

	if err := validateIDs(map[string]string{
		"userId": userID, "courseId": courseID, "moduleId": moduleID,
	}); err != nil {
		return nil, s.fail("submit_quiz", err, fields)
	}

	if _, err := s.findCourse(ctx, courseID); err != nil {
		return nil, s.fail("submit_quiz", err, fields)
	}
	module, err := s.findModule(ctx, courseID, moduleID)
	if err != nil {
		return nil, s.fail("submit_quiz", err, fields)
	}
	questions, err := s.Content.ListQuestions(ctx, moduleID)
	if err != nil {
		return nil, s.fail("submit_quiz", err, fields)
	}
	if len(questions) == 0 {
		return nil, s.fail("submit_quiz", util.NotFound(util.ErrQuizNotFound), fields)
	}

	settings := s.Settings()
	score, err := gradeQuiz(questions, answers, settings.PassingThresholdPercent)
	if err != nil {
		return nil, s.fail("submit_quiz", err, fields)
	}
	xp := module.QuizXPReward
	if xp <= 0 {
		xp = settings.DefaultQuizXP
	}

	key := txn.EnrollmentKey{UserID: userID, CourseID: courseID}
	var out *QuizOutcome
	err = s.Runner.Run(ctx, func(ctx context.Context, rd txn.Reader) (*txn.WriteSet, error) {
		out = &QuizOutcome{
			Passed:                  score.Passed,
			ScorePercent:            score.ScorePercent,
			CorrectCount:            score.Correct,
			TotalQuestions:          score.Total,
			PassingThresholdPercent: settings.PassingThresholdPercent,
		}
		snap, err := rd.ReadAll(ctx, txn.ReadSet{UserID: userID, Enrollment: key})
		if err != nil {
			return nil, err
		}
		if snap.User == nil {
			return nil, util.NotFound(util.ErrUserNotFound)
		}
		out.NewLevel = snap.User.Level
		if !score.Passed {
			return nil, nil
		}

		now := s.Clock.Now()
		enrollment := snap.Enrollment
		if enrollment == nil {
			enrollment = newEnrollment(userID, courseID, now)
		}
		if enrollment.HasQuiz(moduleID) {
			out.AlreadyPassed = true
			return nil, nil
		}

		enrollment.AddQuiz(moduleID)
		enrollment.LastAccess = now
		enrollment.UpdatedAt = now

		user := snap.User
		r := applyReward(user, xp, settings.Rules)
		user.QuizzesCompleted++
		user.UpdatedAt = now

		ws := &txn.WriteSet{
			User:       user,
			Enrollment: enrollment,
			XPEntries: []model.XPHistory{{
				ID:        model.GenerateUUID(),
				UserID:    userID,
				Amount:    xp,
				Source:    model.XPSourceQuiz,
				CourseID:  courseID,
				ModuleID:  moduleID,
				XPAfter:   user.XP,
				CreatedAt: now,
			}},
		}
		if r.Coins > 0 {
			ws.CoinEntries = []model.CoinHistory{levelUpCoins(userID, r, now)}
		}

		out.Rewarded = true
		out.XPGranted = xp
		out.LeveledUp = r.LeveledUp
		out.NewLevel = r.NewLevel
		out.CoinsGranted = r.Coins
		return ws, nil
	})
	if err != nil {
		return nil, s.fail("submit_quiz", err, fields)
	}

	switch {
	case !out.Passed:
		monitoring.ProgressMutations.WithLabelValues("submit_quiz", "failed_attempt").Inc()
		return out, nil
	case out.AlreadyPassed:
		monitoring.ProgressMutations.WithLabelValues("submit_quiz", "already_completed").Inc()
		return out, nil
	}

	monitoring.ProgressMutations.WithLabelValues("submit_quiz", "granted").Inc()
	monitoring.XPGranted.Add(float64(out.XPGranted))
	monitoring.CoinsGranted.Add(float64(out.CoinsGranted))
	logger.Log.Info("quiz passed", append(fields,
		zap.Int("score", out.ScorePercent),
		zap.Int("xp", out.XPGranted),
		zap.Bool("leveledUp", out.LeveledUp),
	)...)

	now := s.Clock.Now()
	s.publish(ctx, events.Event{
		Type: events.QuizPassed, UserID: userID, CourseID: courseID,
		ModuleID: moduleID, OccurredAt: now,
	})
	if out.LeveledUp {
		s.publish(ctx, events.Event{
			Type: events.UserLeveledUp, UserID: userID, CourseID: courseID,
			Level: out.NewLevel, OccurredAt: now,
		})
	}
	return out, nil
}

// Enroll 显式报名；已报名时返回现有记录，created 为 false
func (s *ProgressService) Enroll(ctx context.Context, userID, courseID string) (*model.Enrollment, bool, error) {
	fields := []zap.Field{zap.String("userId", userID), zap.String("courseId", courseID)}
	if err := validateIDs(map[string]string{"userId": userID, "courseId": courseID}); err != nil {
		return nil, false, s.fail("enroll", err, fields)
	}
	if _, err := s.findCourse(ctx, courseID); err != nil {
		return nil, false, s.fail("enroll", err, fields)
	}

	key := txn.EnrollmentKey{UserID: userID, CourseID: courseID}
	var (
		result  *model.Enrollment
		created bool
	)
	err := s.Runner.Run(ctx, func(ctx context.Context, rd txn.Reader) (*txn.WriteSet, error) {
		snap, err := rd.ReadAll(ctx, txn.ReadSet{UserID: userID, Enrollment: key})
		if err != nil {
			return nil, err
		}
		if snap.User == nil {
			return nil, util.NotFound(util.ErrUserNotFound)
		}
		if snap.Enrollment != nil {
			result, created = snap.Enrollment, false
			return nil, nil
		}
		result, created = newEnrollment(userID, courseID, s.Clock.Now()), true
		return &txn.WriteSet{Enrollment: result}, nil
	})
	if err != nil {
		return nil, false, s.fail("enroll", err, fields)
	}
	if created {
		logger.Log.Info("user enrolled", fields...)
	}
	return result, created, nil
}

func (s *ProgressService) GetEnrollment(ctx context.Context, userID, courseID string) (*model.Enrollment, error) {
	fields := []zap.Field{zap.String("userId", userID), zap.String("courseId", courseID)}
	if err := validateIDs(map[string]string{"userId": userID, "courseId": courseID}); err != nil {
		return nil, s.fail("get_enrollment", err, fields)
	}
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, s.fail("get_enrollment", err, fields)
	}
	snap, err := tx.ReadAll(ctx, txn.ReadSet{Enrollment: txn.EnrollmentKey{UserID: userID, CourseID: courseID}})
	if err != nil {
		return nil, s.fail("get_enrollment", err, fields)
	}
	if snap.Enrollment == nil {
		return nil, util.NotFound(util.ErrEnrollmentAbsent)
	}
	return snap.Enrollment, nil
}

func (s *ProgressService) findCourse(ctx context.Context, courseID string) (*model.Course, error) {
	course, err := s.Content.FindCourse(ctx, courseID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, util.NotFound(util.ErrCourseNotFound)
	}
	return course, err
}

// findModule 模块必须属于该课程
func (s *ProgressService) findModule(ctx context.Context, courseID, moduleID string) (*model.Module, error) {
	module, err := s.Content.FindModule(ctx, courseID, moduleID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, util.NotFound(util.ErrModuleNotFound)
	}
	return module, err
}

func (s *ProgressService) publish(ctx context.Context, e events.Event) {
	if err := s.Publisher.Publish(ctx, e); err != nil {
		logger.Log.Warn("publish event failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

// fail 将错误归类；非预期错误记录日志后以通用文案返回
func (s *ProgressService) fail(operation string, err error, fields []zap.Field) error {
	var appErr *util.AppError
	if errors.As(err, &appErr) && appErr.Kind != util.KindInternal {
		return appErr
	}
	monitoring.ProgressMutations.WithLabelValues(operation, "error").Inc()
	logger.Log.Error(operation+" failed", append(fields, zap.Error(err))...)
	if appErr != nil {
		return appErr
	}
	return util.Internal(err)
}

func newEnrollment(userID, courseID string, now time.Time) *model.Enrollment {
	return &model.Enrollment{
		UserID:           userID,
		CourseID:         courseID,
		Status:           model.EnrollmentActive,
		CompletedLessons: datatypes.JSONSlice[string]{},
		CompletedQuizzes: datatypes.JSONSlice[string]{},
		LastAccess:       now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func levelUpCoins(userID string, r reward, now time.Time) model.CoinHistory {
	return model.CoinHistory{
		ID:        model.GenerateUUID(),
		UserID:    userID,
		Amount:    r.Coins,
		Reason:    model.CoinReasonLevelUp,
		Level:     r.NewLevel,
		CreatedAt: now,
	}
}

func validateIDs(ids map[string]string) error {
	for _, name := range []string{"userId", "courseId", "moduleId", "lessonId"} {
		id, ok := ids[name]
		if !ok {
			continue
		}
		if err := util.ValidateID(id); err != nil {
			return util.Validation(util.ErrInvalidID, name)
		}
	}
	return nil
}
