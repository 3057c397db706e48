package service

import (
	"context"
	"errors"
	"fmt"
	"learnhub_backend/internal/config"
	"learnhub_backend/internal/events"
	"learnhub_backend/internal/leveling"
	"learnhub_backend/internal/model"
	"learnhub_backend/internal/txn"
	"learnhub_backend/internal/util"
	"learnhub_backend/pkg/clock"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressFixture struct {
	content  *fakeContent
	store    *txn.MemoryStore
	recorder *events.Recorder
	svc      *ProgressService
}

func testSettings() Settings {
	return Settings{
		PassingThresholdPercent: 70,
		DefaultLessonXP:         10,
		DefaultQuizXP:           50,
		Rules:                   leveling.NewCurve(config.LevelingConfig{XPPerLevel: 100, CoinsPerLevel: 10}),
	}
}

// newProgressFixture 课程 c1：两个模块各三节课，m1 带三道题的测验
func newProgressFixture(t *testing.T) *progressFixture {
	t.Helper()
	content := newFakeContent()
	content.addCourse("c1", 6)
	for m := 1; m <= 2; m++ {
		moduleID := fmt.Sprintf("m%d", m)
		content.addModule("c1", moduleID, m)
		for l := 1; l <= 3; l++ {
			content.addLesson(moduleID, fmt.Sprintf("l%d%d", m, l), l, 60)
		}
	}
	content.addQuiz("m1", "q1", "q2", "q3")
	content.addCourse("c2", 1)
	content.addModule("c2", "other", 1)

	store := txn.NewMemoryStore()
	user := model.User{Name: "learner", Email: "learner@example.com", Role: model.Student, Level: 1}
	user.ID = "u1"
	store.PutUser(user)

	recorder := events.NewRecorder(64)
	runner := txn.NewRunner(store, txn.ImmediateRetry{MaxRetries: 20})
	svc := NewProgressService(content, store, runner, recorder, clock.NewFixed(baseTime), testSettings())
	return &progressFixture{content: content, store: store, recorder: recorder, svc: svc}
}

func eventTypes(evts []events.Event) []events.Type {
	out := make([]events.Type, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Type)
	}
	return out
}

func TestCompleteLessonDrivesProgressToCompletion(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()

	lessons := []struct{ module, lesson string }{
		{"m1", "l11"}, {"m1", "l12"}, {"m1", "l13"},
		{"m2", "l21"}, {"m2", "l22"}, {"m2", "l23"},
	}
	want := []int{17, 33, 50, 67, 83, 100}

	for i, l := range lessons {
		out, err := f.svc.CompleteLesson(ctx, "u1", "c1", l.module, l.lesson)
		require.NoError(t, err)
		assert.False(t, out.AlreadyCompleted)
		assert.Equal(t, want[i], out.NewProgress)
		assert.Equal(t, 10, out.XPGranted)
		if i < len(lessons)-1 {
			assert.Equal(t, model.EnrollmentActive, out.Status)
			assert.False(t, out.CourseCompleted)
		} else {
			assert.Equal(t, model.EnrollmentCompleted, out.Status)
			assert.True(t, out.CourseCompleted)
		}
	}

	replay, err := f.svc.CompleteLesson(ctx, "u1", "c1", "m1", "l11")
	require.NoError(t, err)
	assert.True(t, replay.AlreadyCompleted)
	assert.Equal(t, 100, replay.CurrentProgress)
	assert.Equal(t, 6, f.store.Commits())

	enrollment, ok := f.store.Enrollment(txn.EnrollmentKey{UserID: "u1", CourseID: "c1"})
	require.True(t, ok)
	assert.Len(t, enrollment.CompletedLessons, 6)
	assert.Equal(t, model.EnrollmentCompleted, enrollment.Status)

	user, _ := f.store.User("u1")
	assert.Equal(t, 60, user.XP)
	assert.Equal(t, 6, user.LessonsCompleted)
	assert.Len(t, f.store.XPHistory("u1"), 6)

	types := eventTypes(f.recorder.Drain())
	assert.Contains(t, types, events.CourseCompleted)
	assert.NotContains(t, types, events.UserLeveledUp)
}

func TestCompleteLessonAutoEnrolls(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetEnrollment(ctx, "u1", "c1")
	assert.Equal(t, util.KindNotFound, util.KindOf(err))

	_, err = f.svc.CompleteLesson(ctx, "u1", "c1", "m2", "l22")
	require.NoError(t, err)

	enrollment, err := f.svc.GetEnrollment(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, model.EnrollmentActive, enrollment.Status)
	assert.Equal(t, []string{"l22"}, []string(enrollment.CompletedLessons))
	assert.Empty(t, enrollment.CompletedQuizzes)
	assert.Equal(t, baseTime, enrollment.LastAccess)
}

func TestCompleteLessonLevelUpGrantsCoins(t *testing.T) {
	f := newProgressFixture(t)
	user, _ := f.store.User("u1")
	user.XP = 95
	f.store.PutUser(user)

	out, err := f.svc.CompleteLesson(context.Background(), "u1", "c1", "m1", "l11")
	require.NoError(t, err)
	assert.True(t, out.LeveledUp)
	assert.Equal(t, 2, out.NewLevel)
	assert.Equal(t, 20, out.CoinsGranted)

	user, _ = f.store.User("u1")
	assert.Equal(t, 105, user.XP)
	assert.Equal(t, 2, user.Level)
	assert.Equal(t, 20, user.Coins)
	assert.Equal(t, 20, user.TotalCoinsEarned)

	coins := f.store.CoinHistory("u1")
	require.Len(t, coins, 1)
	assert.Equal(t, model.CoinReasonLevelUp, coins[0].Reason)
	assert.Equal(t, 2, coins[0].Level)
	assert.Contains(t, eventTypes(f.recorder.Drain()), events.UserLeveledUp)
}

func TestCompleteLessonLevelNeverDecreases(t *testing.T) {
	f := newProgressFixture(t)
	// 等级高于经验对应等级时保持不变
	user, _ := f.store.User("u1")
	user.Level = 5
	f.store.PutUser(user)

	out, err := f.svc.CompleteLesson(context.Background(), "u1", "c1", "m1", "l11")
	require.NoError(t, err)
	assert.False(t, out.LeveledUp)
	assert.Equal(t, 5, out.NewLevel)
	assert.Zero(t, out.CoinsGranted)
	assert.Empty(t, f.store.CoinHistory("u1"))
}

func TestCompleteLessonUsesLessonReward(t *testing.T) {
	f := newProgressFixture(t)
	f.content.lessons[0].XPReward = 250

	out, err := f.svc.CompleteLesson(context.Background(), "u1", "c1", "m1", "l11")
	require.NoError(t, err)
	assert.Equal(t, 250, out.XPGranted)
	// 一次跨越多级只按新等级发放一次金币
	assert.Equal(t, 3, out.NewLevel)
	assert.Equal(t, 30, out.CoinsGranted)
	assert.Len(t, f.store.CoinHistory("u1"), 1)
}

func TestCompleteLessonErrors(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()

	cases := []struct {
		name                         string
		user, course, module, lesson string
		kind                         util.ErrorKind
		want                         error
	}{
		{"unknown course", "u1", "nope", "m1", "l11", util.KindNotFound, util.ErrCourseNotFound},
		{"module of another course", "u1", "c1", "other", "l11", util.KindNotFound, util.ErrModuleNotFound},
		{"lesson of another module", "u1", "c1", "m2", "l11", util.KindNotFound, util.ErrLessonNotFound},
		{"unknown user", "ghost", "c1", "m1", "l11", util.KindNotFound, util.ErrUserNotFound},
		{"empty id", "u1", "", "m1", "l11", util.KindValidation, util.ErrInvalidID},
		{"malformed id", "u1", "c1", "m1", "l11/../x", util.KindValidation, util.ErrInvalidID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := f.svc.CompleteLesson(ctx, tc.user, tc.course, tc.module, tc.lesson)
			assert.Nil(t, out)
			assert.Equal(t, tc.kind, util.KindOf(err))
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, f.store.Commits())
}

func TestCompleteLessonStoreFailureIsOpaque(t *testing.T) {
	f := newProgressFixture(t)
	f.store.FailCommits(errors.New("disk full"))

	_, err := f.svc.CompleteLesson(context.Background(), "u1", "c1", "m1", "l11")
	require.Error(t, err)
	assert.Equal(t, util.KindInternal, util.KindOf(err))

	var appErr *util.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, util.ErrInternal.Error(), appErr.Message)

	_, ok := f.store.Enrollment(txn.EnrollmentKey{UserID: "u1", CourseID: "c1"})
	assert.False(t, ok)

	f.store.FailCommits(nil)
	out, err := f.svc.CompleteLesson(context.Background(), "u1", "c1", "m1", "l11")
	require.NoError(t, err)
	assert.False(t, out.AlreadyCompleted)
}

func TestCompleteLessonCancelledContextLeavesNoState(t *testing.T) {
	f := newProgressFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.CompleteLesson(ctx, "u1", "c1", "m1", "l11")
	require.Error(t, err)
	assert.Zero(t, f.store.Commits())
}

func TestCompleteLessonConcurrentSameLessonGrantsOnce(t *testing.T) {
	f := newProgressFixture(t)
	const workers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		already int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.svc.CompleteLesson(context.Background(), "u1", "c1", "m1", "l11")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if out.AlreadyCompleted {
				already++
			} else {
				granted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.Equal(t, workers-1, already)
	assert.Equal(t, 1, f.store.Commits())

	user, _ := f.store.User("u1")
	assert.Equal(t, 10, user.XP)
	assert.Len(t, f.store.XPHistory("u1"), 1)
}

func TestCompleteLessonConcurrentDistinctLessons(t *testing.T) {
	f := newProgressFixture(t)
	lessons := map[string]string{"l11": "m1", "l12": "m1", "l13": "m1", "l21": "m2", "l22": "m2", "l23": "m2"}

	var wg sync.WaitGroup
	for lesson, module := range lessons {
		wg.Add(1)
		go func(module, lesson string) {
			defer wg.Done()
			_, err := f.svc.CompleteLesson(context.Background(), "u1", "c1", module, lesson)
			assert.NoError(t, err)
		}(module, lesson)
	}
	wg.Wait()

	enrollment, ok := f.store.Enrollment(txn.EnrollmentKey{UserID: "u1", CourseID: "c1"})
	require.True(t, ok)
	assert.Equal(t, 100, enrollment.Progress)
	assert.Equal(t, model.EnrollmentCompleted, enrollment.Status)
	assert.ElementsMatch(t, []string{"l11", "l12", "l13", "l21", "l22", "l23"}, []string(enrollment.CompletedLessons))

	user, _ := f.store.User("u1")
	assert.Equal(t, 60, user.XP)
	assert.Equal(t, 6, user.LessonsCompleted)
}

func allCorrect() map[string]string {
	return map[string]string{"q1": "q1-a", "q2": "q2-a", "q3": "q3-a"}
}

func TestSubmitQuizRewardsOnce(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()

	first, err := f.svc.SubmitQuiz(ctx, "u1", "c1", "m1", allCorrect())
	require.NoError(t, err)
	assert.True(t, first.Passed)
	assert.True(t, first.Rewarded)
	assert.Equal(t, 100, first.ScorePercent)
	assert.Equal(t, 3, first.CorrectCount)
	assert.Equal(t, 50, first.XPGranted)

	second, err := f.svc.SubmitQuiz(ctx, "u1", "c1", "m1", allCorrect())
	require.NoError(t, err)
	assert.True(t, second.Passed)
	assert.True(t, second.AlreadyPassed)
	assert.False(t, second.Rewarded)
	assert.Zero(t, second.XPGranted)

	failing, err := f.svc.SubmitQuiz(ctx, "u1", "c1", "m1", map[string]string{"q1": "q1-b"})
	require.NoError(t, err)
	assert.False(t, failing.Passed)
	assert.False(t, failing.Rewarded)

	assert.Equal(t, 1, f.store.Commits())
	user, _ := f.store.User("u1")
	assert.Equal(t, 50, user.XP)
	assert.Equal(t, 1, user.QuizzesCompleted)

	enrollment, ok := f.store.Enrollment(txn.EnrollmentKey{UserID: "u1", CourseID: "c1"})
	require.True(t, ok)
	assert.Equal(t, []string{"m1"}, []string(enrollment.CompletedQuizzes))
	assert.Zero(t, enrollment.Progress)

	entries := f.store.XPHistory("u1")
	require.Len(t, entries, 1)
	assert.Equal(t, model.XPSourceQuiz, entries[0].Source)
}

func TestSubmitQuizFailedAttemptWritesNothing(t *testing.T) {
	f := newProgressFixture(t)

	out, err := f.svc.SubmitQuiz(context.Background(), "u1", "c1", "m1",
		map[string]string{"q1": "q1-a", "q2": "q2-a", "q3": "q3-b"})
	require.NoError(t, err)
	assert.False(t, out.Passed)
	assert.Equal(t, 67, out.ScorePercent)
	assert.Equal(t, 70, out.PassingThresholdPercent)
	assert.Zero(t, f.store.Commits())

	_, ok := f.store.Enrollment(txn.EnrollmentKey{UserID: "u1", CourseID: "c1"})
	assert.False(t, ok)
	assert.Empty(t, f.recorder.Drain())
}

func TestSubmitQuizThresholdUsesExactRatio(t *testing.T) {
	f := newProgressFixture(t)
	twoOfThree := map[string]string{"q1": "q1-a", "q2": "q2-a", "q3": "q3-b"}

	settings := testSettings()
	settings.PassingThresholdPercent = 67
	f.svc.UpdateSettings(settings)
	out, err := f.svc.SubmitQuiz(context.Background(), "u1", "c1", "m1", twoOfThree)
	require.NoError(t, err)
	assert.False(t, out.Passed, "two of three is below 67 percent")

	settings.PassingThresholdPercent = 66
	f.svc.UpdateSettings(settings)
	out, err = f.svc.SubmitQuiz(context.Background(), "u1", "c1", "m1", twoOfThree)
	require.NoError(t, err)
	assert.True(t, out.Passed)
	assert.True(t, out.Rewarded)
}

func TestSubmitQuizUnansweredCountsAsWrong(t *testing.T) {
	f := newProgressFixture(t)

	out, err := f.svc.SubmitQuiz(context.Background(), "u1", "c1", "m1", map[string]string{"q1": "q1-a"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.CorrectCount)
	assert.Equal(t, 3, out.TotalQuestions)
	assert.Equal(t, 33, out.ScorePercent)
}

func TestSubmitQuizErrors(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		module  string
		user    string
		answers map[string]string
		kind    util.ErrorKind
		want    error
	}{
		{"empty answers", "m1", "u1", map[string]string{}, util.KindValidation, util.ErrInvalidAnswers},
		{"unknown question", "m1", "u1", map[string]string{"q9": "q9-a"}, util.KindValidation, util.ErrInvalidAnswers},
		{"option from another question", "m1", "u1", map[string]string{"q1": "q2-a"}, util.KindValidation, util.ErrInvalidAnswers},
		{"module without quiz", "m2", "u1", allCorrect(), util.KindNotFound, util.ErrQuizNotFound},
		{"unknown module", "m9", "u1", allCorrect(), util.KindNotFound, util.ErrModuleNotFound},
		{"unknown user", "m1", "ghost", allCorrect(), util.KindNotFound, util.ErrUserNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := f.svc.SubmitQuiz(ctx, tc.user, "c1", tc.module, tc.answers)
			assert.Nil(t, out)
			assert.Equal(t, tc.kind, util.KindOf(err))
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, f.store.Commits())
}

func TestSubmitQuizConcurrentPassesRewardOnce(t *testing.T) {
	f := newProgressFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitQuiz(context.Background(), "u1", "c1", "m1", allCorrect())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	user, _ := f.store.User("u1")
	assert.Equal(t, 50, user.XP)
	assert.Len(t, f.store.XPHistory("u1"), 1)
}

func TestEnrollIsIdempotent(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()

	first, created, err := f.svc.Enroll(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.EnrollmentActive, first.Status)

	_, err = f.svc.CompleteLesson(ctx, "u1", "c1", "m1", "l11")
	require.NoError(t, err)

	again, created, err := f.svc.Enroll(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 17, again.Progress)
	assert.Equal(t, 2, f.store.Commits())

	_, _, err = f.svc.Enroll(ctx, "ghost", "c1")
	assert.ErrorIs(t, err, util.ErrUserNotFound)
	_, _, err = f.svc.Enroll(ctx, "u1", "nope")
	assert.ErrorIs(t, err, util.ErrCourseNotFound)
}

func TestComputeProgress(t *testing.T) {
	assert.Equal(t, 0, computeProgress(0, 0))
	assert.Equal(t, 0, computeProgress(3, 0))
	assert.Equal(t, 50, computeProgress(1, 2))
	assert.Equal(t, 33, computeProgress(1, 3))
	assert.Equal(t, 67, computeProgress(2, 3))
	assert.Equal(t, 100, computeProgress(8, 6))
}
