// Package memory keeps session records in process memory. It is used when no
// MongoDB URI is configured.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
)

// ReportRepository is an in-memory implementation of ReportRepository
type ReportRepository struct {
	mu       sync.RWMutex
	records  map[string]*entities.SessionRecord // id -> record
	sessions map[string]string                  // session_id -> id
}

var _ repositories.ReportRepository = (*ReportRepository)(nil)

// NewReportRepository creates an empty repository
func NewReportRepository() *ReportRepository {
	return &ReportRepository{
		records:  make(map[string]*entities.SessionRecord),
		sessions: make(map[string]string),
	}
}

// Save implements repositories.ReportRepository
func (m *ReportRepository) Save(ctx context.Context, record *entities.SessionRecord) (string, error) {
	if record == nil {
		return "", errors.New("record cannot be nil")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if err := record.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[record.SessionID]; exists {
		return "", errors.New("a record for this session already exists")
	}

	stored := *record
	stored.Transcript = append([]entities.TranscriptEntry(nil), record.Transcript...)
	m.records[stored.ID] = &stored
	m.sessions[stored.SessionID] = stored.ID
	return stored.ID, nil
}

// GetByID implements repositories.ReportRepository
func (m *ReportRepository) GetByID(ctx context.Context, id string) (*entities.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[id]
	if !exists {
		return nil, repositories.ErrRecordNotFound
	}
	out := *record
	return &out, nil
}

// ListRecent implements repositories.ReportRepository, newest first
func (m *ReportRepository) ListRecent(ctx context.Context, limit int) ([]*entities.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*entities.SessionRecord, 0, len(m.records))
	for _, record := range m.records {
		out := *record
		out.Transcript = nil
		records = append(records, &out)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].EndedAt.After(records[j].EndedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
