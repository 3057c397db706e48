package app

import (
	"bytes"
	"encoding/json"
	"learnhub_backend/internal/config"
	"learnhub_backend/internal/model"
	"learnhub_backend/internal/util"
	"learnhub_backend/pkg/database"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "router-test-secret"

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: "0", Mode: "test"},
		JWT:       config.JWTConfig{Secret: testSecret},
		RateLimit: config.RateLimitConfig{Backend: "memory", MaxRequests: 3, WindowSeconds: 60},
		Progress: config.ProgressConfig{
			PassingThresholdPercent: 70,
			DefaultLessonXP:         10,
			DefaultQuizXP:           50,
			MaxTxnRetries:           3,
		},
		Leveling: config.LevelingConfig{XPPerLevel: 100, CoinsPerLevel: 10},
		Syllabus: config.SyllabusConfig{Concurrency: 2},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	course := model.Course{Title: "Go"}
	course.ID = "c1"
	require.NoError(t, db.Create(&course).Error)
	module := model.Module{CourseID: "c1", Title: "Basics", Order: 1}
	module.ID = "m1"
	require.NoError(t, db.Create(&module).Error)
	for _, id := range []string{"l1", "l2", "l3", "l4"} {
		lesson := model.Lesson{ModuleID: "m1", Title: id, DurationSeconds: 30}
		lesson.ID = id
		require.NoError(t, db.Create(&lesson).Error)
	}
	for _, role := range []model.UserRole{model.Student, model.Teacher} {
		u := model.User{Name: string(role), Email: string(role) + "@example.com", Role: role, Level: 1}
		u.ID = string(role)
		require.NoError(t, db.Create(&u).Error)
	}

	return build(testConfig(), db, nil)
}

func token(t *testing.T, userID string, role model.UserRole) string {
	t.Helper()
	tok, err := util.GenerateJWT(userID, role, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func do(a *App, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestRouterProgressFlow(t *testing.T) {
	a := newTestApp(t)
	student := token(t, "student", model.Student)
	teacher := token(t, "teacher", model.Teacher)

	w := do(a, http.MethodPost, "/api/admin/courses/c1/syllabus/rebuild", student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(a, http.MethodPost, "/api/admin/courses/c1/syllabus/rebuild", teacher, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(a, http.MethodGet, "/api/courses/c1/syllabus", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var course model.Course
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &course))
	assert.Equal(t, 4, course.TotalLessons)

	w = do(a, http.MethodPost, "/api/courses/c1/modules/m1/lessons/l1/complete", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(a, http.MethodPost, "/api/courses/c1/modules/m1/lessons/l1/complete", student, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var outcome struct {
		AlreadyCompleted bool `json:"alreadyCompleted"`
		NewProgress      int  `json:"newProgress"`
		XPGranted        int  `json:"xpGranted"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &outcome))
	assert.False(t, outcome.AlreadyCompleted)
	assert.Equal(t, 25, outcome.NewProgress)
	assert.Equal(t, 10, outcome.XPGranted)

	w = do(a, http.MethodPost, "/api/courses/c1/modules/m1/lessons/l1/complete", student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &outcome))
	assert.True(t, outcome.AlreadyCompleted)

	w = do(a, http.MethodPost, "/api/courses/c1/modules/m1/lessons/missing/complete", student, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 超过每窗口 3 次的限额
	w = do(a, http.MethodPost, "/api/courses/c1/modules/m1/lessons/l2/complete", student, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = do(a, http.MethodGet, "/api/courses/c1/progress", student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var enrollment model.Enrollment
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &enrollment))
	assert.Equal(t, []string{"l1"}, []string(enrollment.CompletedLessons))
}

func TestRouterQuizValidation(t *testing.T) {
	a := newTestApp(t)
	student := token(t, "student", model.Student)

	w := do(a, http.MethodPost, "/api/courses/c1/modules/m1/quiz", student, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// m1 没有题目
	w = do(a, http.MethodPost, "/api/courses/c1/modules/m1/quiz", student, map[string]interface{}{
		"answers": map[string]string{"q1": "a"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(a, http.MethodGet, "/api/courses/c1/progress", student, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(a, http.MethodPost, "/api/courses/c1/enroll", student, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	w = do(a, http.MethodPost, "/api/courses/c1/enroll", student, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
