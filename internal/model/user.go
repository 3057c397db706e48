package model

type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
	Admin   UserRole = "admin"
)

// swagger:model User
// User 只包含进度子系统会递增的字段，其余资料由用户中心维护
type User struct {
	UUIDBase
	Name             string   `gorm:"size:100;not null" json:"name"`
	Email            string   `gorm:"size:100;unique;not null" json:"email"`
	Role             UserRole `gorm:"size:20;default:'student'" json:"role"`
	XP               int      `gorm:"default:0" json:"xp"`
	Level            int      `gorm:"default:1" json:"level"`
	Coins            int      `gorm:"default:0" json:"coins"`
	TotalCoinsEarned int      `gorm:"default:0" json:"totalCoinsEarned"`
	LessonsCompleted int      `gorm:"default:0" json:"lessonsCompleted"`
	QuizzesCompleted int      `gorm:"default:0" json:"quizzesCompleted"`
	Version          int64    `gorm:"not null;default:0" json:"-"`
}

func (User) TableName() string {
	return "users"
}
