// pkg/models/api.go
package models

// NonFieldErrorsKey is the bucket for business-rule errors that don't map to
// a single input field (e.g. illegal status transitions).
const NonFieldErrorsKey = "non_field_errors"

// Validation error response, one message list per field.
type ValidationErrorResponse struct {
	Message string              `json:"message" example:"Validation failed"`
	Errors  map[string][]string `json:"errors"`
}

// Generic error response (403/404/409/500).
type ErrorResponse struct {
	Error   bool   `json:"error" example:"true"`
	Message string `json:"message" example:"Forbidden"`
	Code    string `json:"code,omitempty" example:"FORBIDDEN"`
}
