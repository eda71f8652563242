package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"exitwatch/internal/models"
)

// MockStorage implements Interface for testing. It keeps records in memory
// and supports error injection plus call counting so tests can assert the
// engine's interaction with the store.
type MockStorage struct {
	mu sync.Mutex

	records map[string]*PositionRecord

	insertErr error
	listErr   error
	updateErr error

	insertCalls int
	listCalls   int
	updateCalls int

	// statusWrites records every UpdateStatus invocation in order, keyed by
	// position id, so tests can assert the at-most-once property.
	statusWrites map[string][]models.PositionStatus
}

// NewMockStorage creates an empty mock store.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		records:      make(map[string]*PositionRecord),
		statusWrites: make(map[string][]models.PositionStatus),
	}
}

func (m *MockStorage) InsertPosition(_ context.Context, rec *PositionRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.insertCalls++
	if m.insertErr != nil {
		return "", m.insertErr
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.StatusActive
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return rec.ID, nil
}

func (m *MockStorage) ListActive(_ context.Context) ([]PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []PositionRecord
	for _, rec := range m.records {
		if rec.Status == models.StatusActive {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *MockStorage) UpdateStatus(_ context.Context, id string, status models.PositionStatus, exit *models.ExitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCalls++
	m.statusWrites[id] = append(m.statusWrites[id], status)
	if m.updateErr != nil {
		return m.updateErr
	}
	if !status.Terminal() {
		return ErrTerminalStatus
	}
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	if exit != nil {
		exitedAt := exit.ExitedAt
		if exitedAt.IsZero() {
			exitedAt = time.Now().UTC()
		}
		rec.ExitKind = exit.Kind
		rec.ExitPrice = exit.Price
		rec.ExitAmount = exit.Amount
		rec.ProfitLoss = exit.ProfitLoss
		rec.ExitTxHash = exit.TxHash
		rec.ExitError = exit.Error
		rec.ExitedAt = &exitedAt
	}
	return nil
}

func (m *MockStorage) GetByTradeID(_ context.Context, tradeID string) (*PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		if rec.TradeID == tradeID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStorage) GetHistory(_ context.Context, filter HistoryFilter) ([]PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PositionRecord
	for _, rec := range m.records {
		if !rec.Status.Terminal() {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		out = append(out, *rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Mock control methods for testing

func (m *MockStorage) SetInsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertErr = err
}

func (m *MockStorage) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

func (m *MockStorage) SetUpdateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErr = err
}

// SeedRecord inserts a record directly, bypassing id assignment, so tests
// can simulate peer instances or operators writing to the shared store.
func (m *MockStorage) SeedRecord(rec PositionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.StatusActive
	}
	m.records[rec.ID] = &rec
}

// Record returns a copy of the stored record, if present.
func (m *MockStorage) Record(id string) (PositionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return PositionRecord{}, false
	}
	return *rec, true
}

// StatusWrites returns the terminal writes observed for a position id.
func (m *MockStorage) StatusWrites(id string) []models.PositionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PositionStatus, len(m.statusWrites[id]))
	copy(out, m.statusWrites[id])
	return out
}

func (m *MockStorage) InsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertCalls
}

func (m *MockStorage) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

func (m *MockStorage) UpdateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCalls
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)
