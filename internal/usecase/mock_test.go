//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"license-activation-server/internal/domain"
	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

// newTestLogger creates a silent zerolog.Logger so test output stays clean.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func strPtr(s string) *string { return &s }

// =============================
// Repositories
// =============================

// MockActivationCodeRepo is a map-backed in-memory code registry. Every method
// can be overridden per test through its *Func field.
type MockActivationCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*model.ActivationCode // keyed by code token
	seq   int

	SaveFunc                func(ctx context.Context, tx repository.Tx, code *model.ActivationCode) error
	FindByCodeFunc          func(ctx context.Context, tx repository.Tx, code string) (*model.ActivationCode, error)
	ExistsFunc              func(ctx context.Context, tx repository.Tx, code string) (bool, error)
	ListFunc                func(ctx context.Context, tx repository.Tx, filter repository.CodeFilter, offset, limit int) ([]*model.ActivationCode, int, error)
	CountByStatusFunc       func(ctx context.Context, tx repository.Tx) (map[model.CodeStatus]int, error)
	FindActiveExpiredByFunc func(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ActivationCode, error)
}

var _ repository.ActivationCodeRepository = (*MockActivationCodeRepo)(nil)

func NewMockActivationCodeRepo() *MockActivationCodeRepo {
	return &MockActivationCodeRepo{codes: make(map[string]*model.ActivationCode)}
}

func (m *MockActivationCodeRepo) Save(ctx context.Context, tx repository.Tx, code *model.ActivationCode) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if code.ID == "" {
		m.seq++
		code.ID = fmt.Sprintf("id-%06d", m.seq)
	}
	cp := *code
	m.codes[code.Code] = &cp
	return nil
}

func (m *MockActivationCodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.ActivationCode, error) {
	if m.FindByCodeFunc != nil {
		return m.FindByCodeFunc(ctx, tx, code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockActivationCodeRepo) Exists(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, tx, code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.codes[code]
	return ok, nil
}

func (m *MockActivationCodeRepo) List(ctx context.Context, tx repository.Tx, filter repository.CodeFilter, offset, limit int) ([]*model.ActivationCode, int, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, tx, filter, offset, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.ActivationCode
	for _, c := range m.codes {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.Tier != "" && c.Tier != filter.Tier {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MockActivationCodeRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.CodeStatus]int, error) {
	if m.CountByStatusFunc != nil {
		return m.CountByStatusFunc(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.CodeStatus]int)
	for _, c := range m.codes {
		out[c.Status]++
	}
	return out, nil
}

func (m *MockActivationCodeRepo) FindActiveExpiredBy(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ActivationCode, error) {
	if m.FindActiveExpiredByFunc != nil {
		return m.FindActiveExpiredByFunc(ctx, tx, now, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ActivationCode
	for _, c := range m.codes {
		if c.Status == model.CodeStatusActive && c.ExpiredBy(now) {
			cp := *c
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Get returns the stored snapshot for assertions.
func (m *MockActivationCodeRepo) Get(code string) *model.ActivationCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// MockDeviceRepo is a map-backed in-memory device ledger.
type MockDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*model.Device
	touched []string

	SaveFunc     func(ctx context.Context, tx repository.Tx, device *model.Device) error
	FindByIDFunc func(ctx context.Context, tx repository.Tx, deviceID string) (*model.Device, error)
	TouchFunc    func(ctx context.Context, tx repository.Tx, deviceID string, at time.Time) error
	ListFunc     func(ctx context.Context, tx repository.Tx, filter repository.DeviceFilter, offset, limit int) ([]*model.Device, int, error)
	CountFunc    func(ctx context.Context, tx repository.Tx) (int, error)
}

var _ repository.DeviceRepository = (*MockDeviceRepo)(nil)

func NewMockDeviceRepo() *MockDeviceRepo {
	return &MockDeviceRepo{devices: make(map[string]*model.Device)}
}

func (m *MockDeviceRepo) Save(ctx context.Context, tx repository.Tx, device *model.Device) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, device)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *device
	m.devices[device.DeviceID] = &cp
	return nil
}

func (m *MockDeviceRepo) FindByID(ctx context.Context, tx repository.Tx, deviceID string) (*model.Device, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, deviceID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MockDeviceRepo) Touch(ctx context.Context, tx repository.Tx, deviceID string, at time.Time) error {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, tx, deviceID, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, deviceID)
	if d, ok := m.devices[deviceID]; ok {
		d.LastSeenAt = &at
	}
	return nil
}

func (m *MockDeviceRepo) List(ctx context.Context, tx repository.Tx, filter repository.DeviceFilter, offset, limit int) ([]*model.Device, int, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, tx, filter, offset, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.Device
	for _, d := range m.devices {
		cp := *d
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].DeviceID < all[j].DeviceID })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MockDeviceRepo) Count(ctx context.Context, tx repository.Tx) (int, error) {
	if m.CountFunc != nil {
		return m.CountFunc(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices), nil
}

// Get returns the stored snapshot for assertions.
func (m *MockDeviceRepo) Get(deviceID string) *model.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

// =============================
// Infra helpers for tests
// =============================

// MockTxManager runs the transactional function inline. The mutex gives tests
// the same one-writer-at-a-time behavior the real store enforces, which the
// concurrency tests rely on.
type MockTxManager struct {
	mu         sync.Mutex
	WithTxFunc func(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

func (m *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, nil)
}
