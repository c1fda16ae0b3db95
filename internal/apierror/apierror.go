// Package apierror provides standardized error response structures for the API.
// All errors returned to clients go through this package to ensure consistency
// and to prevent leaking internal details (stack traces, DB errors, etc.).
package apierror

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
// Context carries the figures a client needs to fix the request, such as the
// available stock of a product or both sides of a payment mismatch.
type APIError struct {
	Detail  string         `json:"detail"`
	Context map[string]any `json:"context,omitempty"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

func WithContext(msg string, ctx map[string]any) *APIError {
	return &APIError{Detail: msg, Context: ctx}
}

// Validation wraps multiple field errors.
type ValidationError struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Detail: "validation failed", Fields: fields}
}
