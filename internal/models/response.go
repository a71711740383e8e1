// Package models - API response types and error handling.
// All endpoints share the same JSON error envelope; machine-readable codes
// let clients branch without parsing messages.
package models

import (
	"time"
)

// TagResponse is the public view of a tag with its materialized counts.
type TagResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Slug            string `json:"slug"`
	Color           string `json:"color,omitempty"`
	PostsCount      int    `json:"posts_count"`
	ActivitiesCount int    `json:"activities_count"`
}

type ListTagsResponse struct {
	Tags       []TagResponse `json:"tags"`
	TotalCount int           `json:"total_count"`
}

type SyncTagsRequest struct {
	Tags []string `json:"tags"`
}

type SyncTagsResponse struct {
	TagIDs []string `json:"tag_ids"`
}

// RateCheckRequest is the body of the rate-limit check API consumed by the
// other platform services before performing their own mutations.
type RateCheckRequest struct {
	ResourceClass string `json:"resource_class"`
	Action        string `json:"action"`
	UserID        string `json:"user_id,omitempty"`
	IP            string `json:"ip,omitempty"`
}

type RateCheckResponse struct {
	Allowed           bool   `json:"allowed"`
	Backend           string `json:"backend,omitempty"`
	Limit             int    `json:"limit"`
	Remaining         int    `json:"remaining"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// ErrorResponse provides structured error information with debugging context.
type ErrorResponse struct {
	Error     string            `json:"error"`             // Error type (always "error")
	Message   string            `json:"message"`           // Human-readable error description
	Code      string            `json:"code,omitempty"`    // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"` // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`         // Error occurrence time
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard error codes
const (
	ErrorCodeNotFound       = "NOT_FOUND"        // 404: Resource doesn't exist
	ErrorCodeInvalidRequest = "INVALID_REQUEST"  // 400: Invalid request data
	ErrorCodeValidation     = "VALIDATION_ERROR" // 422: Input validation failed
	ErrorCodeRateLimited    = "RATE_LIMITED"     // 429: Quota exhausted for the window
	ErrorCodeInternalError  = "INTERNAL_ERROR"   // 500: Server-side error
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
