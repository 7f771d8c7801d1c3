package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/food-vision/internal/imageprocessor"
	"github.com/example/food-vision/internal/inferencelog"
	"github.com/example/food-vision/internal/logging"
	"github.com/example/food-vision/internal/prediction"
	"github.com/example/food-vision/internal/registry"
	"github.com/example/food-vision/internal/repository"
	"github.com/example/food-vision/internal/retry"
)

// ErrInvalidLabel is returned when feedback names a class the model does not know.
var ErrInvalidLabel = errors.New("label is not a class of the model")

// InferenceRepository defines the persistence operations needed by the use case.
type InferenceRepository interface {
	SaveLog(ctx context.Context, log *repository.InferenceLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.InferenceLog, error)
	UpdateFeedback(ctx context.Context, requestID string, correct bool, userLabel *string) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Settings addresses the deployed models and shapes their input.
type Settings struct {
	Project   string
	Region    string
	Version   string
	ImageSize int
	Rescale   bool
	CacheTTL  time.Duration
}

// Classification is the outcome of one classify request.
type Classification struct {
	RequestID  string              `json:"request_id"`
	ModelKey   string              `json:"model"`
	ModelName  string              `json:"model_name"`
	Prediction registry.Prediction `json:"prediction"`
	Scores     []float64           `json:"scores,omitempty"`
	Record     inferencelog.Record `json:"record"`
	Cached     bool                `json:"cached"`
	CreatedAt  time.Time           `json:"created_at"`
}

// ModelInfo describes a registered model for listing.
type ModelInfo struct {
	Key       string   `json:"key"`
	ModelName string   `json:"model_name"`
	Classes   []string `json:"classes"`
}

// ClassificationUseCase encapsulates business logic for the classification flow.
type ClassificationUseCase struct {
	registry  *registry.Registry
	repo      InferenceRepository
	cache     Cache
	predictor prediction.Predictor
	settings  Settings
	metrics   *Metrics
	logger    *zap.Logger
	policy    retry.Policy
	now       func() time.Time
}

// NewClassificationUseCase constructs a new use case instance. metrics may be nil.
func NewClassificationUseCase(
	reg *registry.Registry,
	repo InferenceRepository,
	cache Cache,
	predictor prediction.Predictor,
	settings Settings,
	metrics *Metrics,
	logger *zap.Logger,
) *ClassificationUseCase {
	if settings.CacheTTL <= 0 {
		settings.CacheTTL = 5 * time.Minute
	}
	return &ClassificationUseCase{
		registry:  reg,
		repo:      repo,
		cache:     cache,
		predictor: predictor,
		settings:  settings,
		metrics:   metrics,
		logger:    logger.Named("classification_usecase"),
		policy:    retry.DefaultPolicy,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Models lists every registered model with its class labels.
func (uc *ClassificationUseCase) Models() []ModelInfo {
	keys := uc.registry.Keys()
	infos := make([]ModelInfo, 0, len(keys))
	for _, key := range keys {
		cfg, err := uc.registry.Resolve(key)
		if err != nil {
			continue
		}
		infos = append(infos, ModelInfo{Key: cfg.Key, ModelName: cfg.ModelName, Classes: cfg.Classes})
	}
	return infos
}

// Classify resolves the model, preprocesses the image, asks the deployed model
// for scores and records the top-1 class.
func (uc *ClassificationUseCase) Classify(ctx context.Context, selector string, imageBytes []byte) (*Classification, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.classify", requestID)

	cfg, err := uc.registry.Resolve(selector)
	if err != nil {
		opLogger.Info("unknown model selector", zap.String("selector", selector))
		return nil, logging.NewOperationError("usecase.resolve_model", requestID, err)
	}
	opLogger = opLogger.With(zap.String("model", cfg.Key))

	hash := sha1.Sum(imageBytes)
	imageHash := hex.EncodeToString(hash[:])

	started := uc.now()
	scores, cached, err := uc.scores(ctx, requestID, cfg, imageHash, imageBytes)
	if err != nil {
		uc.metrics.observeClassification(cfg.Key, "error")
		opLogger.Error("prediction failed", zap.Error(err))
		return nil, err
	}
	latency := uc.now().Sub(started)

	top, err := cfg.Top(scores)
	if err != nil {
		uc.metrics.observeClassification(cfg.Key, "error")
		wrapped := logging.NewOperationError("usecase.top_class", requestID, err)
		opLogger.Error("failed to map scores to a class", zap.Error(wrapped), zap.Int("scores", len(scores)))
		return nil, wrapped
	}

	record := inferencelog.NewRecord(imageHash, cfg.Key, top.Label, top.Confidence)
	log := repository.FromRecord(requestID, cfg.ModelName, record, latency)
	log.CreatedAt = started
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist inference log", zap.Error(wrapped))
		return nil, wrapped
	}

	result := &Classification{
		RequestID:  requestID,
		ModelKey:   cfg.Key,
		ModelName:  cfg.ModelName,
		Prediction: top,
		Scores:     scores,
		Record:     record,
		Cached:     cached,
		CreatedAt:  started,
	}

	serialized, err := json.Marshal(result)
	if err != nil {
		opLogger.Error("failed to serialize classification", zap.Error(err))
		return nil, err
	}
	if err := retry.Do(ctx, uc.logger, uc.policy, "cache.set.result", requestID, func() error {
		return uc.cache.Set(ctx, resultCacheKey(requestID), string(serialized), uc.settings.CacheTTL)
	}); err != nil {
		// The log row is already committed and GetResult falls back to it.
		opLogger.Warn("failed to cache classification", zap.Error(err))
	}

	uc.metrics.observeClassification(cfg.Key, "ok")
	opLogger.Info("image classified",
		zap.String("class", top.Label),
		zap.Float64("confidence", top.Confidence),
		zap.Bool("cached", cached),
	)
	return result, nil
}

// scores returns the model output for the image, served from the score cache
// when the same image was classified by the same model before.
func (uc *ClassificationUseCase) scores(ctx context.Context, requestID string, cfg registry.ModelConfig, imageHash string, imageBytes []byte) ([]float64, bool, error) {
	key := scoresCacheKey(cfg.Key, imageHash)
	opLogger := logging.WithOperation(uc.logger, "usecase.scores", requestID)

	if raw, err := uc.cache.Get(ctx, key); err == nil {
		var cached []float64
		if err := json.Unmarshal([]byte(raw), &cached); err == nil && len(cached) > 0 {
			uc.metrics.observeCacheHit(cfg.Key)
			return cached, true, nil
		}
		opLogger.Warn("discarding undecodable cached scores")
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read score cache", zap.Error(err))
	}

	tensor, err := imageprocessor.Prepare(imageBytes, uc.settings.ImageSize, uc.settings.Rescale)
	if err != nil {
		return nil, false, logging.NewOperationError("usecase.prepare_image", requestID, err)
	}

	started := uc.now()
	predictions, err := uc.predictor.Predict(ctx, prediction.Params{
		Region:    uc.settings.Region,
		Project:   uc.settings.Project,
		Model:     cfg.ModelName,
		Version:   uc.settings.Version,
		Instances: []prediction.Instance{tensor.Nested()},
	})
	uc.metrics.observePrediction(cfg.Key, uc.now().Sub(started))
	if err != nil {
		return nil, false, logging.NewOperationError("usecase.predict", requestID, err)
	}
	if len(predictions) != 1 {
		return nil, false, logging.NewOperationError("usecase.predict", requestID,
			fmt.Errorf("expected 1 prediction, got %d", len(predictions)))
	}

	serialized, err := json.Marshal(predictions[0])
	if err == nil {
		if err := uc.cache.Set(ctx, key, string(serialized), uc.settings.CacheTTL); err != nil {
			opLogger.Warn("failed to cache scores", zap.Error(err))
		}
	}
	return predictions[0], false, nil
}

// GetResult retrieves a cached classification or rebuilds it from persistence.
func (uc *ClassificationUseCase) GetResult(ctx context.Context, requestID string) (*Classification, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	var cached string
	err := retry.Do(ctx, uc.logger, uc.policy, "cache.get.result", requestID, func() error {
		value, err := uc.cache.Get(ctx, resultCacheKey(requestID))
		if err != nil {
			return err
		}
		cached = value
		return nil
	})
	if err == nil {
		var payload Classification
		decodeErr := json.Unmarshal([]byte(cached), &payload)
		if decodeErr == nil {
			return &payload, nil
		}
		opLogger.Warn("failed to decode cached result", zap.Error(decodeErr))
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return uc.fromLog(log), nil
}

// SubmitFeedback records whether the prediction was right and, optionally,
// the label the user says the image shows.
func (uc *ClassificationUseCase) SubmitFeedback(ctx context.Context, requestID string, correct bool, userLabel *string) (*Classification, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.submit_feedback", requestID)

	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if userLabel != nil {
		cfg, err := uc.registry.Resolve(log.ModelKey)
		if err != nil {
			return nil, logging.NewOperationError("usecase.resolve_model", requestID, err)
		}
		if !cfg.HasClass(*userLabel) {
			return nil, logging.NewOperationError("usecase.submit_feedback", requestID,
				fmt.Errorf("%w: %q", ErrInvalidLabel, *userLabel))
		}
	}

	if err := uc.repo.UpdateFeedback(ctx, requestID, correct, userLabel); err != nil {
		wrapped := logging.NewOperationError("usecase.update_feedback", requestID, err)
		opLogger.Error("failed to store feedback", zap.Error(wrapped))
		return nil, wrapped
	}
	if err := uc.cache.Del(ctx, resultCacheKey(requestID)); err != nil {
		opLogger.Warn("failed to evict cached result", zap.Error(err))
	}

	uc.metrics.observeFeedback(log.ModelKey, correct)
	log.Correct = correct
	log.Reviewed = true
	log.UserLabel = userLabel
	return uc.fromLog(log), nil
}

func (uc *ClassificationUseCase) fromLog(log *repository.InferenceLog) *Classification {
	result := &Classification{
		RequestID: log.RequestID,
		ModelKey:  log.ModelKey,
		ModelName: log.ModelName,
		Record:    log.Record(),
		CreatedAt: log.CreatedAt,
		Prediction: registry.Prediction{
			Index:      -1,
			Label:      log.PredClass,
			Confidence: log.PredConf,
		},
	}
	if cfg, err := uc.registry.Resolve(log.ModelKey); err == nil {
		for i, class := range cfg.Classes {
			if class == log.PredClass {
				result.Prediction.Index = i
				break
			}
		}
	}
	return result
}
