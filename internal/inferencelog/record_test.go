package inferencelog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordDefaults(t *testing.T) {
	rec := NewRecord("img-1", "model_1", "Pizza", 0.87)

	assert.Equal(t, "img-1", rec.Image)
	assert.Equal(t, "model_1", rec.ModelUsed)
	assert.Equal(t, "Pizza", rec.PredClass)
	assert.Equal(t, 0.87, rec.PredConf)
	assert.False(t, rec.Correct)
	assert.Nil(t, rec.UserLabel)
}

func TestNewRecordWithCorrection(t *testing.T) {
	rec := NewRecord("img-1", "model_1", "Pizza", 0.87, WithCorrect(true), WithUserLabel("Sushi"))

	assert.True(t, rec.Correct)
	require.NotNil(t, rec.UserLabel)
	assert.Equal(t, "Sushi", *rec.UserLabel)
}
