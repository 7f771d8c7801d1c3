package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/food-vision/internal/inferencelog"
	"github.com/example/food-vision/internal/retry"
)

// ErrNotFound is returned when no inference log matches the request id.
var ErrNotFound = errors.New("inference log not found")

// InferenceLog is the persisted form of one classification.
type InferenceLog struct {
	ID        uint      `gorm:"primaryKey"`
	RequestID string    `gorm:"column:request_id;uniqueIndex;size:64"`
	ModelKey  string    `gorm:"column:model_key;size:32"`
	ModelName string    `gorm:"column:model_name;size:128"`
	ImageHash string    `gorm:"column:image_hash;index;size:40"`
	PredClass string    `gorm:"column:pred_class;size:64"`
	PredConf  float64   `gorm:"column:pred_conf"`
	Correct   bool      `gorm:"column:correct"`
	Reviewed  bool      `gorm:"column:reviewed"`
	UserLabel *string   `gorm:"column:user_label;size:64"`
	LatencyMs int64     `gorm:"column:latency_ms"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (InferenceLog) TableName() string {
	return "inference_logs"
}

// FromRecord builds a row from an assembled record.
func FromRecord(requestID, modelName string, rec inferencelog.Record, latency time.Duration) *InferenceLog {
	return &InferenceLog{
		RequestID: requestID,
		ModelKey:  rec.ModelUsed,
		ModelName: modelName,
		ImageHash: rec.Image,
		PredClass: rec.PredClass,
		PredConf:  rec.PredConf,
		Correct:   rec.Correct,
		UserLabel: rec.UserLabel,
		LatencyMs: latency.Milliseconds(),
	}
}

// Record converts the row back into a record.
func (l *InferenceLog) Record() inferencelog.Record {
	opts := []inferencelog.Option{inferencelog.WithCorrect(l.Correct)}
	if l.UserLabel != nil {
		opts = append(opts, inferencelog.WithUserLabel(*l.UserLabel))
	}
	return inferencelog.NewRecord(l.ImageHash, l.ModelKey, l.PredClass, l.PredConf, opts...)
}

// MetricsAggregation holds the raw aggregates over all inference logs.
type MetricsAggregation struct {
	TotalCount        int64
	ReviewedCount     int64
	CorrectCount      int64
	AverageConfidence float64
	AverageLatencyMs  float64
}

// InferenceRepository provides persistence APIs for inference logs.
type InferenceRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewInferenceRepository creates a new repository instance.
func NewInferenceRepository(db *gorm.DB, logger *zap.Logger) *InferenceRepository {
	return &InferenceRepository{
		db:     db,
		logger: logger.Named("inference_repository"),
		policy: retry.DefaultPolicy,
	}
}

// AutoMigrate ensures the schema is available.
func (r *InferenceRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&InferenceLog{})
	})
}

// SaveLog persists an inference log entry.
func (r *InferenceRepository) SaveLog(ctx context.Context, log *InferenceLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the inference log for a request.
func (r *InferenceRepository) FindByRequestID(ctx context.Context, requestID string) (*InferenceLog, error) {
	var log InferenceLog
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// UpdateFeedback stores a user's verdict on a prediction.
func (r *InferenceRepository) UpdateFeedback(ctx context.Context, requestID string, correct bool, userLabel *string) error {
	return r.executeWithRetry(ctx, "repository.update_feedback", requestID, func() error {
		result := r.db.WithContext(ctx).
			Model(&InferenceLog{}).
			Where("request_id = ?", requestID).
			Updates(map[string]interface{}{
				"correct":    correct,
				"reviewed":   true,
				"user_label": userLabel,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// metricsRow receives the aggregate columns selected by AggregateMetrics.
type metricsRow struct {
	TotalCount        int64
	ReviewedCount     int64
	CorrectCount      int64
	AverageConfidence float64
	AverageLatencyMs  float64
}

// AggregateMetrics computes counts and averages over every stored log.
func (r *InferenceRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row metricsRow
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		// An aggregate without GROUP BY always yields exactly one row.
		return r.db.WithContext(ctx).
			Model(&InferenceLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN reviewed THEN 1 ELSE 0 END), 0) AS reviewed_count,
				COALESCE(SUM(CASE WHEN reviewed AND correct THEN 1 ELSE 0 END), 0) AS correct_count,
				COALESCE(AVG(pred_conf), 0) AS average_confidence,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms`).
			Take(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalCount:        row.TotalCount,
		ReviewedCount:     row.ReviewedCount,
		CorrectCount:      row.CorrectCount,
		AverageConfidence: row.AverageConfidence,
		AverageLatencyMs:  row.AverageLatencyMs,
	}, nil
}

func (r *InferenceRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	return retry.Do(ctx, r.logger, r.policy, operation, requestID, fn)
}
