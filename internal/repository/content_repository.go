package repository

import (
	"context"
	"errors"
	"learnhub_backend/internal/model"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

// ContentRepository 读取规范化的课程内容，并负责课程聚合上的大纲缓存写入
type ContentRepository struct {
	DB *gorm.DB
}

func NewContentRepository(db *gorm.DB) *ContentRepository {
	return &ContentRepository{DB: db}
}

// byOrder 先按 order，再按创建时间和 id 打破平局
func byOrder(db *gorm.DB) *gorm.DB {
	return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "order"}}).
		Order("created_at asc").
		Order("id asc")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *ContentRepository) FindCourse(ctx context.Context, id string) (*model.Course, error) {
	var course model.Course
	if err := r.DB.WithContext(ctx).First(&course, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &course, nil
}

func (r *ContentRepository) ListCourseIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.DB.WithContext(ctx).Model(&model.Course{}).Order("created_at asc").Pluck("id", &ids).Error
	return ids, err
}

func (r *ContentRepository) FindModule(ctx context.Context, courseID, moduleID string) (*model.Module, error) {
	var m model.Module
	err := r.DB.WithContext(ctx).First(&m, "id = ? AND course_id = ?", moduleID, courseID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *ContentRepository) FindLesson(ctx context.Context, moduleID, lessonID string) (*model.Lesson, error) {
	var l model.Lesson
	err := r.DB.WithContext(ctx).First(&l, "id = ? AND module_id = ?", lessonID, moduleID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (r *ContentRepository) ListModules(ctx context.Context, courseID string) ([]model.Module, error) {
	var modules []model.Module
	err := byOrder(r.DB.WithContext(ctx).Where("course_id = ?", courseID)).Find(&modules).Error
	return modules, err
}

func (r *ContentRepository) ListLessons(ctx context.Context, moduleID string) ([]model.Lesson, error) {
	var lessons []model.Lesson
	err := byOrder(r.DB.WithContext(ctx).Where("module_id = ?", moduleID)).Find(&lessons).Error
	return lessons, err
}

func (r *ContentRepository) HasQuestions(ctx context.Context, moduleID string) (bool, error) {
	var ids []string
	err := r.DB.WithContext(ctx).Model(&model.Question{}).
		Where("module_id = ?", moduleID).
		Limit(1).
		Pluck("id", &ids).Error
	return len(ids) > 0, err
}

// ListQuestions 返回带正确答案标记的题目，作为判分的唯一依据
func (r *ContentRepository) ListQuestions(ctx context.Context, moduleID string) ([]model.Question, error) {
	var questions []model.Question
	err := byOrder(r.DB.WithContext(ctx).Where("module_id = ?", moduleID)).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return byOrder(db) }).
		Find(&questions).Error
	return questions, err
}

// SaveSyllabus 用一条 UPDATE 整体覆盖大纲与统计字段
func (r *ContentRepository) SaveSyllabus(ctx context.Context, courseID string, agg model.SyllabusAggregate, at time.Time) error {
	syllabus := agg.Syllabus
	if syllabus == nil {
		syllabus = []model.ModuleSummary{}
	}
	return r.DB.WithContext(ctx).Model(&model.Course{}).
		Where("id = ?", courseID).
		Updates(map[string]interface{}{
			"syllabus":               datatypes.JSONSlice[model.ModuleSummary](syllabus),
			"modules_count":          agg.ModulesCount,
			"total_lessons":          agg.TotalLessons,
			"total_duration_seconds": agg.TotalDurationSeconds,
			"syllabus_updated_at":    at,
		}).Error
}
