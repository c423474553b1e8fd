// Package errors provides standardized error handling for the eligibility
// engine and its BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Configuration
	ErrCodeConfiguration     ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeConfigNotFound    ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigStoreFailed ErrorCode = "CONFIG_STORE_FAILED"

	// Data source calls
	ErrCodeExtractionFailed    ErrorCode = "EXTRACTION_FAILED"
	ErrCodeUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrCodeUpstreamStatus      ErrorCode = "UPSTREAM_STATUS"
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeCircuitOpen         ErrorCode = "CIRCUIT_OPEN"

	// Evaluation
	ErrCodeEvaluation   ErrorCode = "EVALUATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata adds a metadata entry and returns the error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// As finds the first StandardError in err's chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first StandardError in err's chain, or
// INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := As(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

func detailsOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// NewConfigurationError reports a configuration rejected at load time.
func NewConfigurationError(err error) *StandardError {
	return newError(ErrCodeConfiguration, "Invalid extraction configuration", detailsOf(err), false, err)
}

func NewConfigNotFoundError(templateID string) *StandardError {
	return newError(ErrCodeConfigNotFound, "Extraction configuration not found",
		fmt.Sprintf("templateId: %s", templateID), false, nil).
		WithMetadata("templateId", templateID)
}

// NewConfigStoreFailedError is a retryable failure reading stored configurations.
func NewConfigStoreFailedError(err error) *StandardError {
	return newError(ErrCodeConfigStoreFailed, "Configuration store unavailable", detailsOf(err), true, err)
}

func NewExtractionFailedError(source string, err error) *StandardError {
	return newError(ErrCodeExtractionFailed, fmt.Sprintf("Extraction from '%s' failed", source), detailsOf(err), false, err).
		WithMetadata("source", source)
}

func NewUpstreamTimeoutError(source string, err error) *StandardError {
	return newError(ErrCodeUpstreamTimeout, fmt.Sprintf("Data source '%s' timeout", source), detailsOf(err), true, err).
		WithMetadata("source", source)
}

func NewUpstreamStatusError(source string, status int, err error) *StandardError {
	return newError(ErrCodeUpstreamStatus, fmt.Sprintf("Data source '%s' returned status %d", source, status),
		detailsOf(err), status >= 500, err).
		WithMetadata("source", source).
		WithMetadata("status", status)
}

func NewUpstreamUnavailableError(source string, err error) *StandardError {
	return newError(ErrCodeUpstreamUnavailable, fmt.Sprintf("Data source '%s' unavailable", source), detailsOf(err), true, err).
		WithMetadata("source", source)
}

func NewCircuitOpenError(source string, err error) *StandardError {
	return newError(ErrCodeCircuitOpen, fmt.Sprintf("Circuit open for '%s'", source), detailsOf(err), true, err).
		WithMetadata("source", source)
}

func NewEvaluationError(details string) *StandardError {
	return newError(ErrCodeEvaluation, "Evaluation failed", details, false, nil)
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid input", details, false, nil)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", detailsOf(err), false, err)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to the BPMN error codes the
// eligibility process models catch.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeConfiguration:       "ELIGIBILITY_CONFIG_INVALID",
	ErrCodeConfigNotFound:      "ELIGIBILITY_CONFIG_NOT_FOUND",
	ErrCodeConfigStoreFailed:   "ELIGIBILITY_CONFIG_UNAVAILABLE",
	ErrCodeExtractionFailed:    "ELIGIBILITY_EXTRACTION_FAILED",
	ErrCodeUpstreamTimeout:     "ELIGIBILITY_UPSTREAM_TIMEOUT",
	ErrCodeUpstreamStatus:      "ELIGIBILITY_UPSTREAM_ERROR",
	ErrCodeUpstreamUnavailable: "ELIGIBILITY_UPSTREAM_ERROR",
	ErrCodeCircuitOpen:         "ELIGIBILITY_UPSTREAM_ERROR",
	ErrCodeEvaluation:          "ELIGIBILITY_EVALUATION_FAILED",
	ErrCodeInvalidInput:        "ELIGIBILITY_INVALID_INPUT",
}

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeConfigStoreFailed,
		ErrCodeUpstreamUnavailable:
		return 3

	case ErrCodeUpstreamTimeout,
		ErrCodeCircuitOpen:
		return 2

	case ErrCodeUpstreamStatus:
		return 1

	default:
		return 0 // configuration and input errors never heal by retrying
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// IsRetryable reports whether err carries a retryable StandardError.
func IsRetryable(err error) bool {
	stdErr, ok := As(err)
	return ok && stdErr.Retryable
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "CONFIG"):
		return "CONFIGURATION"
	case strings.HasPrefix(codeStr, "UPSTREAM") || code == ErrCodeCircuitOpen:
		return "UPSTREAM"
	case code == ErrCodeExtractionFailed:
		return "EXTRACTION"
	case code == ErrCodeEvaluation:
		return "EVALUATION"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
