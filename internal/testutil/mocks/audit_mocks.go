package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/entity"
)

// MockPluginAuditDAO is an in-memory dao.PluginAuditDAO for unit tests
type MockPluginAuditDAO struct {
	mu          sync.RWMutex
	records     map[string]*entity.PluginRecord
	transitions []*entity.PluginTransition
	errors      []*entity.PluginErrorRecord
	nextID      uint

	// Err, when set, is returned by every method
	Err error
}

var _ dao.PluginAuditDAO = (*MockPluginAuditDAO)(nil)

// NewMockPluginAuditDAO creates a new mock audit DAO
func NewMockPluginAuditDAO() *MockPluginAuditDAO {
	return &MockPluginAuditDAO{records: make(map[string]*entity.PluginRecord)}
}

func (m *MockPluginAuditDAO) id() uint {
	m.nextID++
	return m.nextID
}

// SavePlugin stores a copy of record, keeping the stored error count
func (m *MockPluginAuditDAO) SavePlugin(_ context.Context, record *entity.PluginRecord) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *record
	if existing, ok := m.records[record.PluginID]; ok {
		stored.ID = existing.ID
		stored.ErrorCount = existing.ErrorCount
	} else {
		stored.ID = m.id()
	}
	record.ID = stored.ID
	m.records[record.PluginID] = &stored
	return nil
}

// FindPlugin returns a copy of the stored record or nil
func (m *MockPluginAuditDAO) FindPlugin(_ context.Context, pluginID string) (*entity.PluginRecord, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[pluginID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// ListPlugins returns every record ordered by plugin id
func (m *MockPluginAuditDAO) ListPlugins(_ context.Context) ([]*entity.PluginRecord, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*entity.PluginRecord, 0, len(m.records))
	for _, r := range m.records {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out, nil
}

// AppendTransition stores t
func (m *MockPluginAuditDAO) AppendTransition(_ context.Context, t *entity.PluginTransition) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t.ID = m.id()
	cp := *t
	m.transitions = append(m.transitions, &cp)
	return nil
}

// ListTransitions returns transitions newest first
func (m *MockPluginAuditDAO) ListTransitions(_ context.Context, pluginID string, page, size int) (*dao.PageResult[entity.PluginTransition], error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*entity.PluginTransition
	for i := len(m.transitions) - 1; i >= 0; i-- {
		if pluginID == "" || m.transitions[i].PluginID == pluginID {
			matched = append(matched, m.transitions[i])
		}
	}
	return paginate(matched, page, size), nil
}

// AppendError stores e and bumps the owning record's error count
func (m *MockPluginAuditDAO) AppendError(_ context.Context, e *entity.PluginErrorRecord) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = m.id()
	cp := *e
	m.errors = append(m.errors, &cp)
	if r, ok := m.records[e.PluginID]; ok {
		r.ErrorCount++
	}
	return nil
}

// ListErrors returns errors newest first
func (m *MockPluginAuditDAO) ListErrors(_ context.Context, pluginID string, page, size int) (*dao.PageResult[entity.PluginErrorRecord], error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*entity.PluginErrorRecord
	for i := len(m.errors) - 1; i >= 0; i-- {
		if pluginID == "" || m.errors[i].PluginID == pluginID {
			matched = append(matched, m.errors[i])
		}
	}
	return paginate(matched, page, size), nil
}

func paginate[T any](items []*T, page, size int) *dao.PageResult[T] {
	page, size = dao.NormalizePage(page, size)
	start := dao.Offset(page, size)
	if start > len(items) {
		start = len(items)
	}
	end := min(start+size, len(items))
	return dao.NewPageResult(items[start:end], int64(len(items)), page, size)
}
