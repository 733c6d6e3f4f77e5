package models_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/shopsync/internal/models"
)

func TestSyncError(t *testing.T) {
	tests := []struct {
		name string
		err  *models.SyncError
		want string
	}{
		{
			name: "with action",
			err: &models.SyncError{
				Code:       models.ErrCodePermanent,
				Phase:      "execute",
				InstanceID: "pantry",
				ActionID:   "act-1",
				Err:        errors.New("item not found"),
			},
			want: "sync execute [PERMANENT_ERROR]: instance pantry: action act-1: item not found",
		},
		{
			name: "without action",
			err: &models.SyncError{
				Code:       models.ErrCodeNetwork,
				Phase:      "refresh",
				InstanceID: "garage",
				Err:        errors.New("connection refused"),
			},
			want: "sync refresh [NETWORK_ERROR]: instance garage: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAPIError(t *testing.T) {
	err := &models.APIError{
		Code:       "CONFLICT",
		Message:    "active list exists",
		StatusCode: 409,
	}

	assert.Equal(t, "API error 409 (CONFLICT): active list exists", err.Error())
	assert.True(t, err.Permanent())
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
		network   bool
	}{
		{"bad request", &models.APIError{StatusCode: 400}, true, false},
		{"not found wrapped", fmt.Errorf("bulk remove: %w", &models.APIError{StatusCode: 404}), true, false},
		{"server error", &models.APIError{StatusCode: 503}, false, false},
		{"network", &models.NetworkError{Op: "GET", Err: errors.New("dial tcp: refused")}, false, true},
		{"wrapped network", fmt.Errorf("load: %w", &models.NetworkError{Op: "GET", Err: errors.New("eof")}), false, true},
		{"plain", errors.New("boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, models.IsPermanent(tt.err))
			assert.Equal(t, tt.network, models.IsNetworkError(tt.err))
		})
	}
}

func TestStatusHelpers(t *testing.T) {
	conflict := fmt.Errorf("generate: %w", &models.APIError{StatusCode: 409})
	assert.True(t, models.IsConflict(conflict))
	assert.False(t, models.IsNotFound(conflict))
	assert.True(t, models.IsNotFound(&models.APIError{StatusCode: 404}))
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("enqueue: %w", &models.ValidationError{Field: "item_ids", Message: "cannot be empty"})

	assert.ErrorIs(t, err, models.ErrInvalidAction)
	assert.Contains(t, err.Error(), "invalid item_ids: cannot be empty")
}
