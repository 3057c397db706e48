package model

import (
	"time"

	"gorm.io/datatypes"
)

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
)

// Enrollment 以 (user_id, course_id) 作为天然的幂等键
type Enrollment struct {
	UserID           string                      `gorm:"primaryKey;type:varchar(36)" json:"userId"`
	CourseID         string                      `gorm:"primaryKey;type:varchar(36)" json:"courseId"`
	Status           EnrollmentStatus            `gorm:"size:20;not null;default:'active'" json:"status"`
	CompletedLessons datatypes.JSONSlice[string] `json:"completedLessons"`
	CompletedQuizzes datatypes.JSONSlice[string] `json:"completedQuizzes"`
	Progress         int                         `gorm:"default:0" json:"progress"`
	LastAccess       time.Time                   `json:"lastAccess"`
	Version          int64                       `gorm:"not null;default:0" json:"-"`
	CreatedAt        time.Time                   `json:"createdAt"`
	UpdatedAt        time.Time                   `json:"updatedAt"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}

// Clone 返回深拷贝，事务内的读写互不影响快照
func (e *Enrollment) Clone() *Enrollment {
	if e == nil {
		return nil
	}
	c := *e
	c.CompletedLessons = append(datatypes.JSONSlice[string]{}, e.CompletedLessons...)
	c.CompletedQuizzes = append(datatypes.JSONSlice[string]{}, e.CompletedQuizzes...)
	return &c
}

func (e *Enrollment) HasLesson(lessonID string) bool {
	return containsID(e.CompletedLessons, lessonID)
}

func (e *Enrollment) HasQuiz(moduleID string) bool {
	return containsID(e.CompletedQuizzes, moduleID)
}

// AddLesson 返回是否为新加入的课时
func (e *Enrollment) AddLesson(lessonID string) bool {
	if e.HasLesson(lessonID) {
		return false
	}
	e.CompletedLessons = append(e.CompletedLessons, lessonID)
	return true
}

func (e *Enrollment) AddQuiz(moduleID string) bool {
	if e.HasQuiz(moduleID) {
		return false
	}
	e.CompletedQuizzes = append(e.CompletedQuizzes, moduleID)
	return true
}

// CompletedLessonCount 按去重后的数量计算，容忍历史数据中的重复 id
func (e *Enrollment) CompletedLessonCount() int {
	return len(distinct(e.CompletedLessons))
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func distinct(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
