package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/parley/domain/entities"
)

// ErrRecordNotFound is returned when no record matches the id
var ErrRecordNotFound = errors.New("record not found")

// ReportRepository persists finished session records
type ReportRepository interface {
	// Save stores the record and returns its id
	Save(ctx context.Context, record *entities.SessionRecord) (string, error)
	GetByID(ctx context.Context, id string) (*entities.SessionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*entities.SessionRecord, error)
}
