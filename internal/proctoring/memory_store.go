package proctoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zaqqye/proctoring_backend/internal/models"
)

// MemoryStore keeps everything in process. Reads return copies.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*models.ProctoringSession
	violations  map[string][]models.Violation
	challenges  map[string]models.LivenessChallenge
	snapshots   map[string][]models.SessionSnapshot
	settings    map[string]models.ProctoringSettings
	trustScores map[string]models.TrustScore
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*models.ProctoringSession),
		violations:  make(map[string][]models.Violation),
		challenges:  make(map[string]models.LivenessChallenge),
		snapshots:   make(map[string][]models.SessionSnapshot),
		settings:    make(map[string]models.ProctoringSettings),
		trustScores: make(map[string]models.TrustScore),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *models.ProctoringSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.ProctoringSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, id string, fn Mutator) (*models.ProctoringSession, []models.Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	work := cur.Clone()
	vs, err := fn(work)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	stampViolations(work, vs, now)
	work.UpdatedAt = now
	m.sessions[id] = work
	m.violations[id] = append(m.violations[id], vs...)

	out := make([]models.Violation, len(vs))
	copy(out, vs)
	return work.Clone(), out, nil
}

func (m *MemoryStore) ListSessionsByUser(_ context.Context, userID string) ([]models.ProctoringSession, error) {
	return m.filterSessions(func(s *models.ProctoringSession) bool { return s.UserID == userID }), nil
}

func (m *MemoryStore) ListCompletedSessions(_ context.Context, userID string) ([]models.ProctoringSession, error) {
	return m.filterSessions(func(s *models.ProctoringSession) bool {
		return s.UserID == userID && s.Status == models.SessionCompleted
	}), nil
}

func (m *MemoryStore) ListSessions(_ context.Context, f SessionFilter) ([]models.ProctoringSession, int64, error) {
	all := m.filterSessions(func(s *models.ProctoringSession) bool {
		return (f.Status == "" || s.Status == f.Status) &&
			(f.UserID == "" || s.UserID == f.UserID) &&
			(f.ChallengeID == "" || s.ChallengeID == f.ChallengeID)
	})
	total := int64(len(all))
	if f.Offset >= len(all) {
		return []models.ProctoringSession{}, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, total, nil
}

// filterSessions returns matches newest first.
func (m *MemoryStore) filterSessions(keep func(*models.ProctoringSession) bool) []models.ProctoringSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ProctoringSession
	for _, s := range m.sessions {
		if keep(s) {
			out = append(out, *s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

func (m *MemoryStore) ListViolations(_ context.Context, sessionID string) ([]models.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Violation, len(m.violations[sessionID]))
	copy(out, m.violations[sessionID])
	sortViolations(out)
	return out, nil
}

func (m *MemoryStore) ListViolationsByUser(_ context.Context, userID string) ([]models.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Violation
	for _, vs := range m.violations {
		for _, v := range vs {
			if v.UserID == userID {
				out = append(out, v)
			}
		}
	}
	sortViolations(out)
	return out, nil
}

func sortViolations(vs []models.Violation) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].Timestamp.Before(vs[j].Timestamp) })
}

func (m *MemoryStore) GetChallenge(_ context.Context, sessionID string) (*models.LivenessChallenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.challenges[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) PutChallenge(_ context.Context, c *models.LivenessChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[c.SessionID] = *c
	return nil
}

func (m *MemoryStore) DeleteChallenge(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.challenges, sessionID)
	return nil
}

func (m *MemoryStore) CreateSnapshot(_ context.Context, snap *models.SessionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.CreatedAt = time.Now().UTC()
	m.snapshots[snap.SessionID] = append(m.snapshots[snap.SessionID], *snap)
	return nil
}

func (m *MemoryStore) ListSnapshots(_ context.Context, sessionID string) ([]models.SessionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SessionSnapshot, len(m.snapshots[sessionID]))
	copy(out, m.snapshots[sessionID])
	return out, nil
}

func (m *MemoryStore) GetSettings(_ context.Context, scope string) (*models.ProctoringSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.settings[scope]
	if !ok {
		return nil, ErrNotFound
	}
	st.RequiredDevices = append(st.RequiredDevices[:0:0], st.RequiredDevices...)
	return &st, nil
}

func (m *MemoryStore) SaveSettings(_ context.Context, st *models.ProctoringSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := m.settings[st.Scope]; ok {
		st.CreatedAt = prev.CreatedAt
	} else {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	cp := *st
	cp.RequiredDevices = append(cp.RequiredDevices[:0:0], st.RequiredDevices...)
	m.settings[st.Scope] = cp
	return nil
}

func (m *MemoryStore) FindTrustScore(_ context.Context, userID string) (*models.TrustScore, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.trustScores[userID]
	if !ok {
		return nil, false, nil
	}
	return &ts, true, nil
}

func (m *MemoryStore) SaveTrustScore(_ context.Context, ts *models.TrustScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := m.trustScores[ts.UserID]; ok {
		ts.CreatedAt = prev.CreatedAt
	} else {
		ts.CreatedAt = now
	}
	ts.UpdatedAt = now
	m.trustScores[ts.UserID] = *ts
	return nil
}
