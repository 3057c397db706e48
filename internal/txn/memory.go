package txn

import (
	"context"
	"learnhub_backend/internal/model"
	"sync"
)

// MemoryStore 单实例内存实现，语义与数据库实现一致：读版本、条件写、冲突即失败
type MemoryStore struct {
	mu          sync.Mutex
	users       map[string]*model.User
	enrollments map[EnrollmentKey]*model.Enrollment
	xp          []model.XPHistory
	coins       []model.CoinHistory
	commitErr   error
	commits     int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*model.User),
		enrollments: make(map[EnrollmentKey]*model.Enrollment),
	}
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTx{store: s, tracker: NewTracker()}, nil
}

func (s *MemoryStore) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := u
	s.users[u.ID] = &c
}

func (s *MemoryStore) User(id string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, false
	}
	return *u, true
}

func (s *MemoryStore) Enrollment(key EnrollmentKey) (*model.Enrollment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[key]
	return e.Clone(), ok
}

func (s *MemoryStore) XPHistory(userID string) []model.XPHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.XPHistory
	for _, e := range s.xp {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) CoinHistory(userID string) []model.CoinHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CoinHistory
	for _, e := range s.coins {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// Commits 返回成功提交次数
func (s *MemoryStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// FailCommits 让后续提交返回 err，传 nil 恢复
func (s *MemoryStore) FailCommits(err error) {
	s.mu.Lock()
	s.commitErr = err
	s.mu.Unlock()
}

type memoryTx struct {
	store   *MemoryStore
	tracker *Tracker
}

func (t *memoryTx) ReadAll(ctx context.Context, rs ReadSet) (*Snapshot, error) {
	if err := t.tracker.BeginRead(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{}
	if rs.UserID != "" {
		if u, ok := s.users[rs.UserID]; ok {
			c := *u
			snap.User = &c
			t.tracker.RecordUser(rs.UserID, true, u.Version)
		} else {
			t.tracker.RecordUser(rs.UserID, false, 0)
		}
	}
	if rs.Enrollment.UserID != "" && rs.Enrollment.CourseID != "" {
		if e, ok := s.enrollments[rs.Enrollment]; ok {
			snap.Enrollment = e.Clone()
			t.tracker.RecordEnrollment(rs.Enrollment, true, e.Version)
		} else {
			t.tracker.RecordEnrollment(rs.Enrollment, false, 0)
		}
	}
	return snap, nil
}

func (t *memoryTx) Commit(ctx context.Context, ws WriteSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	userRead, enrollRead, err := t.tracker.CloseForCommit(ws)
	if err != nil {
		return err
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commitErr != nil {
		return s.commitErr
	}

	if ws.User != nil {
		cur, ok := s.users[ws.User.ID]
		if !ok || cur.Version != userRead.Version {
			return ErrConflict
		}
	}
	var key EnrollmentKey
	if ws.Enrollment != nil {
		key = EnrollmentKey{UserID: ws.Enrollment.UserID, CourseID: ws.Enrollment.CourseID}
		cur, ok := s.enrollments[key]
		if ok != enrollRead.Exists || (ok && cur.Version != enrollRead.Version) {
			return ErrConflict
		}
	}

	if ws.User != nil {
		u := *ws.User
		u.Version = userRead.Version + 1
		s.users[u.ID] = &u
	}
	if ws.Enrollment != nil {
		e := ws.Enrollment.Clone()
		e.Version = enrollRead.Version + 1
		s.enrollments[key] = e
	}
	s.xp = append(s.xp, ws.XPEntries...)
	s.coins = append(s.coins, ws.CoinEntries...)
	s.commits++
	return nil
}
