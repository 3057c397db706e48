package repository

import (
	"context"
	"errors"
	"learnhub_backend/internal/model"
	"learnhub_backend/internal/txn"

	"gorm.io/gorm"
)

// GormTxnStore 在关系库上实现读集 + 条件写：读取时记录 version，
// 提交时在同一数据库事务内按 version 条件更新，任何一行不匹配即整体回滚并返回冲突
type GormTxnStore struct {
	DB *gorm.DB
}

func NewGormTxnStore(db *gorm.DB) *GormTxnStore {
	return &GormTxnStore{DB: db}
}

func (s *GormTxnStore) Begin(ctx context.Context) (txn.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &gormTx{db: s.DB, tracker: txn.NewTracker()}, nil
}

type gormTx struct {
	db      *gorm.DB
	tracker *txn.Tracker
}

func (t *gormTx) ReadAll(ctx context.Context, rs txn.ReadSet) (*txn.Snapshot, error) {
	if err := t.tracker.BeginRead(); err != nil {
		return nil, err
	}
	db := t.db.WithContext(ctx)
	snap := &txn.Snapshot{}

	if rs.UserID != "" {
		var u model.User
		err := db.First(&u, "id = ?", rs.UserID).Error
		switch {
		case err == nil:
			snap.User = &u
			t.tracker.RecordUser(rs.UserID, true, u.Version)
		case errors.Is(err, gorm.ErrRecordNotFound):
			t.tracker.RecordUser(rs.UserID, false, 0)
		default:
			return nil, err
		}
	}

	key := rs.Enrollment
	if key.UserID != "" && key.CourseID != "" {
		var e model.Enrollment
		err := db.First(&e, "user_id = ? AND course_id = ?", key.UserID, key.CourseID).Error
		switch {
		case err == nil:
			snap.Enrollment = &e
			t.tracker.RecordEnrollment(key, true, e.Version)
		case errors.Is(err, gorm.ErrRecordNotFound):
			t.tracker.RecordEnrollment(key, false, 0)
		default:
			return nil, err
		}
	}
	return snap, nil
}

func (t *gormTx) Commit(ctx context.Context, ws txn.WriteSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	userRead, enrollRead, err := t.tracker.CloseForCommit(ws)
	if err != nil {
		return err
	}

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ws.Enrollment != nil {
			if err := writeEnrollment(tx, ws.Enrollment, enrollRead); err != nil {
				return err
			}
		}
		if ws.User != nil {
			if err := writeUser(tx, ws.User, userRead); err != nil {
				return err
			}
		}
		if len(ws.XPEntries) > 0 {
			if err := tx.Create(&ws.XPEntries).Error; err != nil {
				return err
			}
		}
		if len(ws.CoinEntries) > 0 {
			if err := tx.Create(&ws.CoinEntries).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func writeEnrollment(tx *gorm.DB, e *model.Enrollment, read txn.ReadVersion) error {
	if !read.Exists {
		row := e.Clone()
		row.Version = 1
		if err := tx.Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return txn.ErrConflict
			}
			return err
		}
		return nil
	}

	res := tx.Model(&model.Enrollment{}).
		Where("user_id = ? AND course_id = ? AND version = ?", e.UserID, e.CourseID, read.Version).
		Updates(map[string]interface{}{
			"status":            e.Status,
			"completed_lessons": e.CompletedLessons,
			"completed_quizzes": e.CompletedQuizzes,
			"progress":          e.Progress,
			"last_access":       e.LastAccess,
			"version":           read.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return txn.ErrConflict
	}
	return nil
}

func writeUser(tx *gorm.DB, u *model.User, read txn.ReadVersion) error {
	res := tx.Model(&model.User{}).
		Where("id = ? AND version = ?", u.ID, read.Version).
		Updates(map[string]interface{}{
			"xp":                 u.XP,
			"level":              u.Level,
			"coins":              u.Coins,
			"total_coins_earned": u.TotalCoinsEarned,
			"lessons_completed":  u.LessonsCompleted,
			"quizzes_completed":  u.QuizzesCompleted,
			"version":            read.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return txn.ErrConflict
	}
	return nil
}
