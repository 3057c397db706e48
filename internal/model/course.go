package model

import (
	"time"

	"gorm.io/datatypes"
)

// Course 同时承担课程聚合文档：Syllabus 及统计字段由大纲重建整体覆盖
type Course struct {
	UUIDBase
	Title                string                             `gorm:"size:255;not null" json:"title"`
	Syllabus             datatypes.JSONSlice[ModuleSummary] `json:"syllabus"`
	ModulesCount         int                                `gorm:"default:0" json:"modulesCount"`
	TotalLessons         int                                `gorm:"default:0" json:"totalLessons"`
	TotalDurationSeconds int                                `gorm:"default:0" json:"totalDurationSeconds"`
	SyllabusUpdatedAt    *time.Time                         `json:"syllabusUpdatedAt,omitempty"`
}

func (Course) TableName() string {
	return "courses"
}

type Module struct {
	UUIDBase
	CourseID     string `gorm:"index;type:varchar(36);not null" json:"courseId"`
	Title        string `gorm:"size:255;not null" json:"title"`
	Order        int    `gorm:"default:0" json:"order"`
	QuizXPReward int    `gorm:"default:0" json:"quizXpReward"` // 0 表示使用默认测验经验
}

func (Module) TableName() string {
	return "modules"
}

type Lesson struct {
	UUIDBase
	ModuleID        string `gorm:"index;type:varchar(36);not null" json:"moduleId"`
	Title           string `gorm:"size:255;not null" json:"title"`
	Order           int    `gorm:"default:0" json:"order"`
	DurationSeconds int    `gorm:"default:0" json:"durationSeconds"`
	IsFreePreview   bool   `gorm:"default:false" json:"isFreePreview"`
	XPReward        int    `gorm:"default:0" json:"xpReward"` // 0 表示使用默认课时经验
}

func (Lesson) TableName() string {
	return "lessons"
}

// Question 属于模块；模块是否有测验由题目是否存在推导
type Question struct {
	UUIDBase
	ModuleID string           `gorm:"index;type:varchar(36);not null" json:"moduleId"`
	Prompt   string           `gorm:"type:text" json:"prompt"`
	Order    int              `gorm:"default:0" json:"order"`
	Options  []QuestionOption `gorm:"foreignKey:QuestionID" json:"options"`
}

func (Question) TableName() string {
	return "questions"
}

type QuestionOption struct {
	UUIDBase
	QuestionID string `gorm:"index;type:varchar(36);not null" json:"questionId"`
	Text       string `gorm:"size:500" json:"text"`
	Order      int    `gorm:"default:0" json:"order"`
	IsCorrect  bool   `gorm:"default:false" json:"-"`
}

func (QuestionOption) TableName() string {
	return "question_options"
}

type LessonSummary struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"durationSeconds"`
	IsFreePreview   bool   `json:"isFreePreview"`
}

type ModuleSummary struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Lessons         []LessonSummary `json:"lessons"`
	LessonsCount    int             `json:"lessonsCount"`
	DurationSeconds int             `json:"durationSeconds"`
	HasQuiz         bool            `json:"hasQuiz"`
}

// SyllabusAggregate 是一次重建写入课程文档的全部字段
type SyllabusAggregate struct {
	Syllabus             []ModuleSummary `json:"syllabus"`
	ModulesCount         int             `json:"modulesCount"`
	TotalLessons         int             `json:"totalLessons"`
	TotalDurationSeconds int             `json:"totalDurationSeconds"`
}
