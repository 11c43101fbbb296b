package session

import (
	"context"
	"sync"
	"time"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// Store persists sessions. Implementations need not serialize updates to one
// session; the Merger does that per session key. Missing sessions are
// reported as common.ErrNotFound.
type Store interface {
	Get(ctx context.Context, id string) (*entity.ParseSession, error)
	FindByKey(ctx context.Context, orgID, projectCode string) (*entity.ParseSession, error)
	Put(ctx context.Context, s *entity.ParseSession) error
	Delete(ctx context.Context, id string) error
	ListUpdatedBefore(ctx context.Context, before time.Time) ([]*entity.ParseSession, error)
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*entity.ParseSession
	byKey map[string]string // org|project -> id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]*entity.ParseSession{}, byKey: map[string]string{}}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*entity.ParseSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) FindByKey(_ context.Context, orgID, projectCode string) (*entity.ParseSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[Key(orgID, projectCode)]
	if !ok {
		return nil, common.ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, s *entity.ParseSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.ID] = s.Clone()
	m.byKey[Key(s.OrgID, s.ProjectCode)] = s.ID
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	delete(m.byID, id)
	if k := Key(s.OrgID, s.ProjectCode); m.byKey[k] == id {
		delete(m.byKey, k)
	}
	return nil
}

func (m *MemoryStore) ListUpdatedBefore(_ context.Context, before time.Time) ([]*entity.ParseSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*entity.ParseSession
	for _, s := range m.byID {
		if s.UpdatedAt.Before(before) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// Len is the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
