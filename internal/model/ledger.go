package model

import "time"

type XPSource string

const (
	XPSourceLesson XPSource = "lesson_complete"
	XPSourceQuiz   XPSource = "quiz_pass"
)

// XPHistory 为只追加的经验流水，不参与状态重建
type XPHistory struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"index;type:varchar(36);not null" json:"userId"`
	Amount    int       `gorm:"not null" json:"amount"`
	Source    XPSource  `gorm:"size:30;not null" json:"source"`
	CourseID  string    `gorm:"type:varchar(36)" json:"courseId"`
	ModuleID  string    `gorm:"type:varchar(36)" json:"moduleId"`
	LessonID  string    `gorm:"type:varchar(36)" json:"lessonId,omitempty"`
	XPAfter   int       `json:"xpAfter"`
	CreatedAt time.Time `json:"createdAt"`
}

func (XPHistory) TableName() string {
	return "xp_history"
}

type CoinHistory struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"index;type:varchar(36);not null" json:"userId"`
	Amount    int       `gorm:"not null" json:"amount"`
	Reason    string    `gorm:"size:50;not null" json:"reason"`
	Level     int       `json:"level"`
	CreatedAt time.Time `json:"createdAt"`
}

func (CoinHistory) TableName() string {
	return "coin_history"
}

const CoinReasonLevelUp = "level_up"
