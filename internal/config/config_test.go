package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("PREDICTION_PROJECT", "food-vision")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 224, cfg.ImageSize)
	assert.False(t, cfg.ImageRescale)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, time.Duration(0), cfg.PredictionTimeout)
	assert.Empty(t, cfg.PredictionRegion)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("PREDICTION_PROJECT", " food-vision ")
	t.Setenv("PREDICTION_REGION", "europe-west1")
	t.Setenv("PREDICTION_VERSION", "v3")
	t.Setenv("IMAGE_SIZE", "128")
	t.Setenv("IMAGE_RESCALE", "true")
	t.Setenv("PREDICTION_TIMEOUT", "20s")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "food-vision", cfg.PredictionProject)
	assert.Equal(t, "europe-west1", cfg.PredictionRegion)
	assert.Equal(t, "v3", cfg.PredictionVersion)
	assert.Equal(t, 128, cfg.ImageSize)
	assert.True(t, cfg.ImageRescale)
	assert.Equal(t, 20*time.Second, cfg.PredictionTimeout)
}

func TestParseRequiresProject(t *testing.T) {
	t.Setenv("PREDICTION_PROJECT", "")

	_, err := Parse()
	assert.Error(t, err)
}

func TestParseRejectsInvalidImageSize(t *testing.T) {
	t.Setenv("PREDICTION_PROJECT", "food-vision")
	t.Setenv("IMAGE_SIZE", "0")

	_, err := Parse()
	assert.Error(t, err)
}
