package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seatdesk/seatdesk/internal/domain"
)

// MockCodeRepository is a hand-written, in-memory implementation of
// CodeRepository used in unit tests. The mutex gives IncrementUse the same
// check-and-write atomicity as the conditional UPDATE.
type MockCodeRepository struct {
	mu    sync.Mutex
	codes map[string]*domain.RedemptionCode
	next  int64

	// Optional error overrides — set in tests to simulate failure paths.
	GetErr       error
	IncrementErr error
}

func NewMockCodeRepository() *MockCodeRepository {
	return &MockCodeRepository{codes: make(map[string]*domain.RedemptionCode)}
}

// Add stores a copy of c, assigning an id when c.ID is zero.
func (m *MockCodeRepository) Add(c domain.RedemptionCode) *domain.RedemptionCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		m.next++
		c.ID = m.next
	}
	m.codes[c.Code] = &c
	return &c
}

func (m *MockCodeRepository) GetByCode(_ context.Context, code string) (*domain.RedemptionCode, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *MockCodeRepository) IncrementUse(_ context.Context, id int64) (bool, error) {
	if m.IncrementErr != nil {
		return false, m.IncrementErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.ID == id {
			if c.UsedCount >= c.MaxUses {
				return false, nil
			}
			c.UsedCount++
			return true, nil
		}
	}
	return false, nil
}

func (m *MockCodeRepository) DecrementUse(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok || c.UsedCount <= 0 {
		return false, nil
	}
	c.UsedCount--
	return true, nil
}

// UsedCount returns the current used_count of code, or -1 if unknown.
func (m *MockCodeRepository) UsedCount(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.codes[code]; ok {
		return c.UsedCount
	}
	return -1
}

// MockResourceRepository serves resources, pools and member counts from memory.
type MockResourceRepository struct {
	mu        sync.RWMutex
	resources map[int64]*domain.Resource
	pools     map[string]*domain.Pool
	members   map[int64]int

	ListErr  error
	CountErr error
}

func NewMockResourceRepository() *MockResourceRepository {
	return &MockResourceRepository{
		resources: make(map[int64]*domain.Resource),
		pools:     make(map[string]*domain.Pool),
		members:   make(map[int64]int),
	}
}

func (m *MockResourceRepository) AddPool(p domain.Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[p.Name] = &p
}

func (m *MockResourceRepository) AddResource(r domain.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = &r
}

// SetMembers simulates the sync job writing a new snapshot.
func (m *MockResourceRepository) SetMembers(resourceID int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[resourceID] = n
}

func (m *MockResourceRepository) ListActive(_ context.Context, poolID *int64) ([]*domain.Resource, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Resource
	for _, r := range m.resources {
		if !r.Active {
			continue
		}
		if poolID != nil && (r.PoolID == nil || *r.PoolID != *poolID) {
			continue
		}
		clone := *r
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockResourceRepository) GetPoolByName(_ context.Context, name string) (*domain.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *MockResourceRepository) CountMembers(_ context.Context, resourceID int64) (int, error) {
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members[resourceID], nil
}

// MockInviteRepository keeps queue items and assignment records in memory.
type MockInviteRepository struct {
	mu      sync.RWMutex
	items   map[string]*domain.QueueItem
	records []*domain.AssignmentRecord

	CreateErr   error
	CompleteErr error
}

func NewMockInviteRepository() *MockInviteRepository {
	return &MockInviteRepository{items: make(map[string]*domain.QueueItem)}
}

func (m *MockInviteRepository) Create(_ context.Context, q *domain.QueueItem) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *q
	m.items[q.ID] = &clone
	return nil
}

func (m *MockInviteRepository) GetByID(_ context.Context, id string) (*domain.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *q
	return &clone, nil
}

func (m *MockInviteRepository) MarkProcessing(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if q, ok := m.items[id]; ok && q.Status == domain.StatusPending {
			q.Status = domain.StatusProcessing
		}
	}
	return nil
}

func (m *MockInviteRepository) Complete(_ context.Context, id string, out domain.Outcome, batchID string) (bool, error) {
	if m.CompleteErr != nil {
		return false, m.CompleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.items[id]
	if !ok || q.Status.Terminal() {
		return false, nil
	}
	now := time.Now().UTC()
	errMsg := domain.TruncateError(out.Err)

	q.Status = out.Status
	q.FailureKind = out.FailureKind
	q.RetryCount = out.RetryCount
	q.ErrorMessage = errMsg
	q.ResourceID = out.ResourceID
	q.ProcessedAt = &now

	m.records = append(m.records, &domain.AssignmentRecord{
		ID:           int64(len(m.records) + 1),
		QueueItemID:  id,
		ResourceID:   out.ResourceID,
		Subject:      q.Subject,
		Code:         q.Code,
		RequestorID:  q.RequestorID,
		Status:       out.Status,
		FailureKind:  out.FailureKind,
		ErrorMessage: errMsg,
		BatchID:      batchID,
		CreatedAt:    now,
	})
	return true, nil
}

func (m *MockInviteRepository) FindUnfinished(_ context.Context, limit int) ([]*domain.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.QueueItem
	for _, q := range m.items {
		if !q.Status.Terminal() {
			clone := *q
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockInviteRepository) ResetProcessing(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, q := range m.items {
		if q.Status == domain.StatusProcessing {
			q.Status = domain.StatusPending
			n++
		}
	}
	return n, nil
}

func (m *MockInviteRepository) ListAssignments(_ context.Context, f domain.AssignmentFilter) ([]*domain.AssignmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.AssignmentRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		a := m.records[i]
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Code != "" && a.Code != f.Code {
			continue
		}
		clone := *a
		result = append(result, &clone)
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}

// Records returns every assignment record in insertion order.
func (m *MockInviteRepository) Records() []domain.AssignmentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AssignmentRecord, len(m.records))
	for i, a := range m.records {
		out[i] = *a
	}
	return out
}

var (
	_ CodeRepository       = (*MockCodeRepository)(nil)
	_ ResourceRepository   = (*MockResourceRepository)(nil)
	_ MembershipRepository = (*MockResourceRepository)(nil)
	_ InviteRepository     = (*MockInviteRepository)(nil)
)
