package store

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/holostream/archivist/internal/model"
)

// MemoryStore is an in-process Store used by component tests that don't
// need real persistence, in the shape of the teacher's
// pipeline/store.MemoryStore test double (mutex-guarded maps).
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*model.Job
	rules    map[string]*model.AutoRule
	pending  map[string]*model.PendingChatCapture
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*model.Job),
		rules:   make(map[string]*model.AutoRule),
		pending: make(map[string]*model.PendingChatCapture),
	}
}

// UpsertJob merges title/filename/channel/member flag/start time/
// platform into an existing row on conflict, the same fields sqlite.go's
// UpsertJob overwrites; status/last_status/error/resolution belong to
// whatever task is already driving the job and are preserved as-is
// rather than reset to the incoming row's (freshly-constructed, always
// StatusWaiting) values.
func (m *MemoryStore) UpsertJob(_ context.Context, j *model.Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	existing, existed := m.jobs[j.ID]
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	cp := *j
	if existed {
		cp.Status = existing.Status
		cp.LastStatus = existing.LastStatus
		cp.Error = existing.Error
		cp.Resolution = existing.Resolution
		cp.CreatedAt = existing.CreatedAt
	}
	m.jobs[j.ID] = &cp
	return !existed, nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) ListJobs(_ context.Context, includeDone bool) ([]*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if !includeDone && j.Status == model.StatusDone {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, id string, fn UpdateFn) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = time.Now()
	m.jobs[id] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) ListAutoRules(_ context.Context) ([]*model.AutoRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.AutoRule
	for _, r := range m.rules {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) InsertAutoRule(_ context.Context, r *model.AutoRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rules[r.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateAutoRule(_ context.Context, id string, fn func(r *model.AutoRule) error) (*model.AutoRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	before := *r
	cp := *r
	if err := fn(&cp); err != nil {
		return nil, err
	}
	if reflect.DeepEqual(cp, before) {
		return nil, ErrNoOpUpdate
	}
	m.rules[id] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) DeleteAutoRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, id)
	return nil
}

func (m *MemoryStore) PutPendingChatCapture(_ context.Context, p *model.PendingChatCapture) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	m.pending[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPendingChatCapture(_ context.Context, id string) (*model.PendingChatCapture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pending[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPendingChatCaptures(_ context.Context) ([]*model.PendingChatCapture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.PendingChatCapture
	for _, p := range m.pending {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) DeletePendingChatCapture(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

func (m *MemoryStore) RecoverStaleJobs(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status.IsInFlight() {
			j.LastStatus = j.Status
			j.Status = model.StatusError
			j.Error = "process restarted mid-stage"
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
