package service

import (
	"context"
	"learnhub_backend/internal/model"
	"learnhub_backend/internal/repository"
	"sync"
	"time"
)

// fakeContent 内存版内容存储，同时满足 ContentReader 和 SyllabusSource
type fakeContent struct {
	mu        sync.Mutex
	courses   map[string]*model.Course
	modules   []model.Module
	lessons   []model.Lesson
	questions []model.Question

	failLessonsFor string
	failErr        error
	saves          int
}

func newFakeContent() *fakeContent {
	return &fakeContent{courses: map[string]*model.Course{}}
}

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func (f *fakeContent) addCourse(id string, totalLessons int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &model.Course{Title: id, TotalLessons: totalLessons}
	c.ID = id
	c.CreatedAt = baseTime
	f.courses[id] = c
}

func (f *fakeContent) addModule(courseID, id string, order int) {
	m := model.Module{CourseID: courseID, Title: id, Order: order}
	m.ID = id
	m.CreatedAt = baseTime
	f.modules = append(f.modules, m)
}

func (f *fakeContent) addLesson(moduleID, id string, order, duration int) {
	l := model.Lesson{ModuleID: moduleID, Title: id, Order: order, DurationSeconds: duration}
	l.ID = id
	l.CreatedAt = baseTime
	f.lessons = append(f.lessons, l)
}

// addQuiz 每题两个选项，"<题目id>-a" 为正确答案
func (f *fakeContent) addQuiz(moduleID string, questionIDs ...string) {
	for i, qid := range questionIDs {
		q := model.Question{ModuleID: moduleID, Prompt: qid, Order: i}
		q.ID = qid
		right := model.QuestionOption{QuestionID: qid, Text: "right", IsCorrect: true}
		right.ID = qid + "-a"
		wrong := model.QuestionOption{QuestionID: qid, Text: "wrong", Order: 1}
		wrong.ID = qid + "-b"
		q.Options = []model.QuestionOption{right, wrong}
		f.questions = append(f.questions, q)
	}
}

func (f *fakeContent) FindCourse(_ context.Context, courseID string) (*model.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.courses[courseID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeContent) ListCourseIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.courses))
	for id := range f.courses {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeContent) FindModule(_ context.Context, courseID, moduleID string) (*model.Module, error) {
	for _, m := range f.modules {
		if m.ID == moduleID && m.CourseID == courseID {
			cp := m
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeContent) FindLesson(_ context.Context, moduleID, lessonID string) (*model.Lesson, error) {
	for _, l := range f.lessons {
		if l.ID == lessonID && l.ModuleID == moduleID {
			cp := l
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ListModules 按插入顺序返回，排序交给调用方
func (f *fakeContent) ListModules(_ context.Context, courseID string) ([]model.Module, error) {
	var out []model.Module
	for _, m := range f.modules {
		if m.CourseID == courseID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeContent) ListLessons(_ context.Context, moduleID string) ([]model.Lesson, error) {
	if f.failLessonsFor == moduleID {
		return nil, f.failErr
	}
	var out []model.Lesson
	for _, l := range f.lessons {
		if l.ModuleID == moduleID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeContent) HasQuestions(_ context.Context, moduleID string) (bool, error) {
	for _, q := range f.questions {
		if q.ModuleID == moduleID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeContent) ListQuestions(_ context.Context, moduleID string) ([]model.Question, error) {
	var out []model.Question
	for _, q := range f.questions {
		if q.ModuleID == moduleID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeContent) SaveSyllabus(_ context.Context, courseID string, agg model.SyllabusAggregate, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.courses[courseID]
	if !ok {
		return repository.ErrNotFound
	}
	c.Syllabus = agg.Syllabus
	c.ModulesCount = agg.ModulesCount
	c.TotalLessons = agg.TotalLessons
	c.TotalDurationSeconds = agg.TotalDurationSeconds
	c.SyllabusUpdatedAt = &at
	f.saves++
	return nil
}
