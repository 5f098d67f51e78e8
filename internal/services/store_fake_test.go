package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/repository"
)

// memState is the in-memory table set behind memStore.
type memState struct {
	users    map[string]models.User
	sessions map[string]models.Session
	logs     map[string]models.DailyActivityLog
	pvq      map[string]models.PVQVerificationRecord
	answers  map[string]string
	exams    map[string]models.ExamAttemptRecord
}

func newMemState() memState {
	return memState{
		users:    map[string]models.User{},
		sessions: map[string]models.Session{},
		logs:     map[string]models.DailyActivityLog{},
		pvq:      map[string]models.PVQVerificationRecord{},
		answers:  map[string]string{},
		exams:    map[string]models.ExamAttemptRecord{},
	}
}

func (s memState) clone() memState {
	c := newMemState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.logs {
		v.Sessions = append([]string(nil), v.Sessions...)
		c.logs[k] = v
	}
	for k, v := range s.pvq {
		c.pvq[k] = v
	}
	for k, v := range s.answers {
		c.answers[k] = v
	}
	for k, v := range s.exams {
		v.Attempts = append([]models.ExamAttempt(nil), v.Attempts...)
		c.exams[k] = v
	}
	return c
}

// memStore serializes transactions behind one mutex and applies a
// transaction's writes only when fn returns nil.
type memStore struct {
	mu       sync.Mutex
	state    memState
	failWith error
	txCount  int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (m *memStore) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++
	if m.failWith != nil {
		return m.failWith
	}
	work := m.state.clone()
	if err := fn(&memTx{s: &work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.users[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

func (m *memStore) GetDailyLog(ctx context.Context, id string) (*models.DailyActivityLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.state.logs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &l, nil
}

// Test helpers.

func (m *memStore) putUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.DailyStatus == "" {
		u.DailyStatus = "active"
	}
	m.state.users[u.ID] = u
}

func (m *memStore) putSession(s models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.sessions[s.ID] = s
}

func (m *memStore) putLog(l models.DailyActivityLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.logs[l.ID] = l
}

func (m *memStore) user(id string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.users[id]
}

func (m *memStore) session(id string) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.sessions[id]
}

func (m *memStore) dailyLog(id string) (models.DailyActivityLog, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.state.logs[id]
	return l, ok
}

func (m *memStore) pvqRecord(id string) (models.PVQVerificationRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.pvq[id]
	return r, ok
}

func (m *memStore) examRecord(id string) (models.ExamAttemptRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.exams[id]
	return r, ok
}

type memTx struct {
	s *memState
}

func (t *memTx) EnsureUser(ctx context.Context, userID string) error {
	if _, ok := t.s.users[userID]; !ok {
		t.s.users[userID] = models.User{ID: userID, DailyStatus: "active"}
	}
	return nil
}

func (t *memTx) LockUser(ctx context.Context, userID string) (*models.User, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

func (t *memTx) SetDailyStatus(ctx context.Context, userID, status string, lockedAt *time.Time) error {
	u := t.s.users[userID]
	u.DailyStatus = status
	u.DailyLockedAt = lockedAt
	t.s.users[userID] = u
	return nil
}

func (t *memTx) AddCumulativeMinutes(ctx context.Context, userID string, delta int) (int, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	u.CumulativeMinutes = max(0, u.CumulativeMinutes+delta)
	t.s.users[userID] = u
	return u.CumulativeMinutes, nil
}

func (t *memTx) SetPVQLockout(ctx context.Context, userID string, until *time.Time) error {
	u := t.s.users[userID]
	u.PVQLockoutUntil = until
	t.s.users[userID] = u
	return nil
}

func (t *memTx) SetExamState(ctx context.Context, userID string, state models.ExamUserState) error {
	u := t.s.users[userID]
	u.ExamLockoutUntil = state.LockoutUntil
	u.AcademicResetRequired = state.AcademicResetRequired
	u.ResetAvailableAt = state.ResetAvailableAt
	u.FinalExamPassed = state.FinalExamPassed
	u.FinalExamScore = state.FinalExamScore
	t.s.users[userID] = u
	return nil
}

func (t *memTx) SetCompletionCertificate(ctx context.Context, userID string, certificateID uuid.UUID) error {
	u := t.s.users[userID]
	u.CompletionCertificateID = &certificateID
	t.s.users[userID] = u
	return nil
}

func (t *memTx) CreateSession(ctx context.Context, s *models.Session) error {
	t.s.sessions[s.ID] = *s
	return nil
}

func (t *memTx) LockSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	s, ok := t.s.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, pgx.ErrNoRows
	}
	return &s, nil
}

func (t *memTx) TouchSession(ctx context.Context, sessionID string, now time.Time) error {
	s := t.s.sessions[sessionID]
	s.LastHeartbeatAt = now
	t.s.sessions[sessionID] = s
	return nil
}

func (t *memTx) SetSessionStatus(ctx context.Context, sessionID, status string, now time.Time) error {
	s := t.s.sessions[sessionID]
	s.Status = status
	switch status {
	case "ended":
		s.EndedAt = &now
	case "idle_timeout":
		s.IdleTimeoutAt = &now
	}
	t.s.sessions[sessionID] = s
	return nil
}

func (t *memTx) LockStaleSessions(ctx context.Context, cutoff time.Time, limit int) ([]models.Session, error) {
	var out []models.Session
	for _, s := range t.s.sessions {
		if s.Status == "active" && s.LastHeartbeatAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastHeartbeatAt.Before(out[j].LastHeartbeatAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) LockDailyLog(ctx context.Context, id string) (*models.DailyActivityLog, error) {
	l, ok := t.s.logs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	l.Sessions = append([]string(nil), l.Sessions...)
	return &l, nil
}

func (t *memTx) IncrementDailyLog(ctx context.Context, seed models.DailyLogSeed) (*models.DailyActivityLog, bool, error) {
	l, ok := t.s.logs[seed.ID]
	if !ok {
		l = models.DailyActivityLog{
			ID:                       seed.ID,
			UserID:                   seed.UserID,
			CourseID:                 seed.CourseID,
			DateKey:                  seed.DateKey,
			MinutesCompleted:         1,
			AdjustedMinutesCompleted: 1,
			SessionCount:             1,
			Sessions:                 []string{seed.SessionID},
			Status:                   "active",
			CreatedAt:                seed.Now,
			UpdatedAt:                seed.Now,
		}
		t.s.logs[seed.ID] = l
		return &l, true, nil
	}

	// Mirrors the ON CONFLICT branch of pgTx.IncrementDailyLog.
	if l.ExcludedFromDailyLimit {
		l.AdjustedMinutesCompleted++
	} else {
		l.AdjustedMinutesCompleted = l.MinutesCompleted + 1
	}
	l.MinutesCompleted++
	seen := false
	for _, id := range l.Sessions {
		if id == seed.SessionID {
			seen = true
			break
		}
	}
	if !seen {
		l.Sessions = append(append([]string(nil), l.Sessions...), seed.SessionID)
		l.SessionCount++
	}
	l.UpdatedAt = seed.Now
	t.s.logs[seed.ID] = l
	return &l, false, nil
}

func (t *memTx) SaveDailyLogExclusion(ctx context.Context, l *models.DailyActivityLog, now time.Time) error {
	stored, ok := t.s.logs[l.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.AdjustedMinutesCompleted = l.AdjustedMinutesCompleted
	stored.ExcludedFromDailyLimit = l.ExcludedFromDailyLimit
	stored.IdleMinutesExcluded = l.IdleMinutesExcluded
	stored.UpdatedAt = now
	t.s.logs[l.ID] = stored
	return nil
}

func (t *memTx) LockPVQRecord(ctx context.Context, id string) (*models.PVQVerificationRecord, error) {
	r, ok := t.s.pvq[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &r, nil
}

func (t *memTx) SavePVQRecord(ctx context.Context, rec *models.PVQVerificationRecord) error {
	t.s.pvq[rec.ID] = *rec
	return nil
}

func (t *memTx) GetPVQAnswerHash(ctx context.Context, userID, questionID string) (string, error) {
	h, ok := t.s.answers[userID+"|"+questionID]
	if !ok {
		return "", pgx.ErrNoRows
	}
	return h, nil
}

func (t *memTx) SavePVQAnswerHashes(ctx context.Context, userID string, hashes map[string]string, now time.Time) error {
	for q, h := range hashes {
		t.s.answers[userID+"|"+q] = h
	}
	return nil
}

func (t *memTx) LockExamRecord(ctx context.Context, id string) (*models.ExamAttemptRecord, error) {
	r, ok := t.s.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	r.Attempts = append([]models.ExamAttempt(nil), r.Attempts...)
	return &r, nil
}

func (t *memTx) SaveExamRecord(ctx context.Context, rec *models.ExamAttemptRecord) error {
	existing := t.s.exams[rec.ID]
	stored := *rec
	stored.Attempts = existing.Attempts
	t.s.exams[rec.ID] = stored
	return nil
}

func (t *memTx) AppendExamAttempt(ctx context.Context, recordID string, a models.ExamAttempt) error {
	r := t.s.exams[recordID]
	for _, existing := range r.Attempts {
		if existing.AttemptNumber == a.AttemptNumber {
			return errDuplicateAttempt
		}
	}
	r.Attempts = append(append([]models.ExamAttempt(nil), r.Attempts...), a)
	t.s.exams[recordID] = r
	return nil
}

// recordingAudit captures audit events in order.
type recordingAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAudit) Record(ctx context.Context, ev AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAudit) all() []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEvent(nil), a.events...)
}

func (a *recordingAudit) last() AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) == 0 {
		return AuditEvent{}
	}
	return a.events[len(a.events)-1]
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errDuplicateAttempt = errors.New("duplicate exam attempt number")
