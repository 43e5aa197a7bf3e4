package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
)

const reportsCollection = "interview_sessions"

// ReportRepository stores finished interview sessions in MongoDB
type ReportRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.ReportRepository = (*ReportRepository)(nil)

// NewReportRepository creates a new MongoDB report repository
func NewReportRepository(db *mongo.Database, logger *zap.Logger) *ReportRepository {
	return &ReportRepository{
		collection: db.Collection(reportsCollection),
		logger:     logger,
	}
}

// EnsureIndexes creates the indexes ListRecent and session lookups rely on
func (r *ReportRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ended_at", Value: -1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Save implements repositories.ReportRepository
func (r *ReportRepository) Save(ctx context.Context, record *entities.SessionRecord) (string, error) {
	if record == nil {
		return "", errors.New("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return "", fmt.Errorf("invalid record: %w", err)
	}

	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		return "", fmt.Errorf("failed to save session record: %w", err)
	}

	r.logger.Info("Session record saved",
		zap.String("record_id", record.ID),
		zap.String("session_id", record.SessionID),
		zap.Float64("overall_score", record.OverallScore))
	return record.ID, nil
}

// GetByID implements repositories.ReportRepository
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*entities.SessionRecord, error) {
	if id == "" {
		return nil, errors.New("record ID cannot be empty")
	}

	var record entities.SessionRecord
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get session record %s: %w", id, err)
	}
	return &record, nil
}

// ListRecent implements repositories.ReportRepository
func (r *ReportRepository) ListRecent(ctx context.Context, limit int) ([]*entities.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "ended_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"transcript": 0})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*entities.SessionRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode session records: %w", err)
	}
	return records, nil
}
