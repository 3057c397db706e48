package txn

import "sync"

// ReadVersion 是事务读到的文档状态；Exists 为 false 时 Version 为 0
type ReadVersion struct {
	Exists  bool
	Version int64
}

// Tracker 记录事务读到的版本，供各存储实现做条件写校验
type Tracker struct {
	mu          sync.Mutex
	committed   bool
	users       map[string]ReadVersion
	enrollments map[EnrollmentKey]ReadVersion
}

func NewTracker() *Tracker {
	return &Tracker{
		users:       make(map[string]ReadVersion),
		enrollments: make(map[EnrollmentKey]ReadVersion),
	}
}

func (t *Tracker) BeginRead() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return ErrReadAfterCommit
	}
	return nil
}

// RecordUser 只保留第一次读到的版本，保证同一事务内多次读取仍以首次快照为准
func (t *Tracker) RecordUser(id string, exists bool, version int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.users[id]; !ok {
		t.users[id] = ReadVersion{Exists: exists, Version: version}
	}
}

func (t *Tracker) RecordEnrollment(key EnrollmentKey, exists bool, version int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.enrollments[key]; !ok {
		t.enrollments[key] = ReadVersion{Exists: exists, Version: version}
	}
}

// CloseForCommit 校验写集只触及读过的文档，并把事务标记为已提交
func (t *Tracker) CloseForCommit(ws WriteSet) (user, enrollment ReadVersion, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return ReadVersion{}, ReadVersion{}, ErrClosed
	}
	if ws.User != nil {
		rs, ok := t.users[ws.User.ID]
		if !ok || !rs.Exists {
			return ReadVersion{}, ReadVersion{}, ErrUnreadWrite
		}
		user = rs
	}
	if ws.Enrollment != nil {
		rs, ok := t.enrollments[EnrollmentKey{UserID: ws.Enrollment.UserID, CourseID: ws.Enrollment.CourseID}]
		if !ok {
			return ReadVersion{}, ReadVersion{}, ErrUnreadWrite
		}
		enrollment = rs
	}
	t.committed = true
	return user, enrollment, nil
}
