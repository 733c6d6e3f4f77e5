package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for structured error handling.
const (
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeNetwork     = "NETWORK_ERROR"
	ErrCodePermanent   = "PERMANENT_ERROR"
	ErrCodeTransient   = "TRANSIENT_ERROR"
	ErrCodeStorage     = "STORAGE_ERROR"
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeConflict    = "CONFLICT"
	ErrCodeServerError = "SERVER_ERROR"
)

// Sentinel errors
var (
	ErrOffline          = errors.New("offline: this operation requires a connection")
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrActiveListExists = errors.New("an active shopping list already exists")
	ErrNoActiveList     = errors.New("no active shopping list")
	ErrInvalidAction    = errors.New("invalid pending action")
	ErrStaleResponse    = errors.New("response superseded by a newer request")
	ErrPendingChanges   = errors.New("queued changes have not reached the server yet")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// APIError represents an error response returned by the inventory service.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Permanent reports whether retrying the request can never succeed.
func (e *APIError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// NetworkError means no response was received from the service.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ValidationError is raised for malformed input before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidAction
}

// SyncError provides detailed failure information for a queued action.
type SyncError struct {
	Code       string
	Phase      string
	InstanceID string
	ActionID   string
	Err        error
}

func (e *SyncError) Error() string {
	if e.ActionID != "" {
		return fmt.Sprintf("sync %s [%s]: instance %s: action %s: %v", e.Phase, e.Code, e.InstanceID, e.ActionID, e.Err)
	}
	return fmt.Sprintf("sync %s [%s]: instance %s: %v", e.Phase, e.Code, e.InstanceID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a client-side (4xx) rejection.
func IsPermanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Permanent()
	}
	return false
}

// IsNetworkError reports whether err means no response was received.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsConflict reports whether err is a 409 response.
func IsConflict(err error) bool {
	return HasStatus(err, http.StatusConflict)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return HasStatus(err, http.StatusNotFound)
}

// HasStatus reports whether err is an API error with the given status.
func HasStatus(err error, status int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == status
	}
	return false
}
