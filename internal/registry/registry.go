// Package registry holds the deployed food classification models and the
// ordered class labels each of them predicts.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownModel is returned when a selector does not name a registered model.
var ErrUnknownModel = errors.New("unknown model")

// ErrNoLabel is returned when the winning score index has no class label.
var ErrNoLabel = errors.New("prediction index has no class label")

// selectorSeparator splits a model key from its free-text description,
// e.g. "model_1 : 10 food classes".
const selectorSeparator = " : "

var baseClasses = []string{
	"Chicken_curry",
	"Chicken_wings",
	"Fried_rice",
	"Grilled_salmon",
	"Hamburger",
	"Ice_cream",
	"Pizza",
	"Ramen",
	"Steak",
	"Sushi",
}

var updatedClasses = []string{
	"Donuts",
	"Not-Food",
}

// ModelConfig describes one deployed model. Classes[i] labels output position i.
type ModelConfig struct {
	Key       string
	Classes   []string
	ModelName string
}

// Prediction is the top-scoring class of one output vector.
type Prediction struct {
	Index      int     `json:"index"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// HasClass reports whether label is one of the model's classes.
func (c ModelConfig) HasClass(label string) bool {
	for _, class := range c.Classes {
		if class == label {
			return true
		}
	}
	return false
}

// Top maps the highest score to its label. Ties resolve to the lowest index.
func (c ModelConfig) Top(scores []float64) (Prediction, error) {
	if len(scores) == 0 {
		return Prediction{}, fmt.Errorf("%s: empty score vector", c.Key)
	}
	best := 0
	for i, score := range scores[1:] {
		if score > scores[best] {
			best = i + 1
		}
	}
	if best >= len(c.Classes) {
		return Prediction{}, fmt.Errorf("%s: index %d of %d classes: %w", c.Key, best, len(c.Classes), ErrNoLabel)
	}
	return Prediction{Index: best, Label: c.Classes[best], Confidence: scores[best]}, nil
}

// Registry is an immutable set of model configurations.
type Registry struct {
	models map[string]ModelConfig
}

// New builds a registry from configs keyed by their lower-cased Key.
// Class slices are copied so later mutation by the caller has no effect.
func New(configs ...ModelConfig) (*Registry, error) {
	models := make(map[string]ModelConfig, len(configs))
	for _, cfg := range configs {
		key := strings.ToLower(strings.TrimSpace(cfg.Key))
		if key == "" {
			return nil, errors.New("registry: empty model key")
		}
		if _, exists := models[key]; exists {
			return nil, fmt.Errorf("registry: duplicate model key %q", key)
		}
		if cfg.ModelName == "" {
			return nil, fmt.Errorf("registry: model %q has no deployed name", key)
		}
		if len(cfg.Classes) == 0 {
			return nil, fmt.Errorf("registry: model %q has no classes", key)
		}
		cfg.Key = key
		cfg.Classes = append([]string(nil), cfg.Classes...)
		models[key] = cfg
	}
	return &Registry{models: models}, nil
}

// Default returns the two food models served by this deployment.
func Default() *Registry {
	total := append(append([]string(nil), baseClasses...), updatedClasses...)
	sort.Strings(total)

	reg, err := New(
		ModelConfig{
			Key:       "model_1",
			Classes:   baseClasses,
			ModelName: "efficientnet_model_1_10_classes",
		},
		ModelConfig{
			Key:       "model_2",
			Classes:   total,
			ModelName: "efficientnet_model_2_12_classes",
		},
	)
	if err != nil {
		panic(err)
	}
	return reg
}

// Resolve looks up the model named by selector. Only the part before " : "
// is significant and it is matched case-insensitively.
func (r *Registry) Resolve(selector string) (ModelConfig, error) {
	key := NormalizeSelector(selector)
	cfg, ok := r.models[key]
	if !ok {
		return ModelConfig{}, fmt.Errorf("%w: %q", ErrUnknownModel, key)
	}
	cfg.Classes = append([]string(nil), cfg.Classes...)
	return cfg, nil
}

// Keys lists the registered model keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.models))
	for key := range r.models {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeSelector strips the description suffix, trims surrounding
// whitespace and lower-cases the key. The suffix is only recognised with the
// spaced " : " separator.
func NormalizeSelector(selector string) string {
	key, _, _ := strings.Cut(selector, selectorSeparator)
	return strings.ToLower(strings.TrimSpace(key))
}
