package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
)

type detectRequest struct {
	LookbackHours int    `json:"lookbackHours" validate:"omitempty,min=1,max=720"`
	Format        string `json:"format" validate:"omitempty,oneof=csv json"`
	Prompt        string `json:"prompt" validate:"required"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(detectRequest{Prompt: "hi", LookbackHours: 24}))

	err := Struct(detectRequest{LookbackHours: 1000, Format: "xml"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "lookbackHours must be at most 720")
	assert.Contains(t, err.Error(), "format must be one of: csv json")
	assert.Contains(t, err.Error(), "prompt is required")
}
