package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeBadRequest          ErrorType = "BAD_REQUEST"
	ErrorTypeUnauthorized        ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden           ErrorType = "FORBIDDEN"
	ErrorTypeNotFound            ErrorType = "NOT_FOUND"
	ErrorTypeProfileNotFound     ErrorType = "PROFILE_NOT_FOUND"
	ErrorTypeTrialLimitReached   ErrorType = "TRIAL_LIMIT_REACHED"
	ErrorTypeInsufficientFunds   ErrorType = "INSUFFICIENT_FUNDS"
	ErrorTypeGenerationFailed    ErrorType = "GENERATION_FAILED"
	ErrorTypeInternalServerError ErrorType = "INTERNAL_SERVER_ERROR"
)

// CustomError represents a custom error with associated HTTP status code and type
type CustomError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Internal   error
	Details    map[string]any
}

// Error implements the error interface
func (e *CustomError) Error() string {
	return e.Message
}

func (e *CustomError) Unwrap() error {
	return e.Internal
}

// newError creates a new CustomError
func newError(errType ErrorType, message string, statusCode int, internal error) *CustomError {
	return &CustomError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

// New400Error creates a new bad request error
func New400Error(message string) *CustomError {
	return newError(ErrorTypeBadRequest, message, http.StatusBadRequest, nil)
}

// New401Error creates a new unauthorized error
func New401Error(message string) *CustomError {
	if message == "" {
		message = "Unauthorized access"
	}
	return newError(ErrorTypeUnauthorized, message, http.StatusUnauthorized, nil)
}

// New403Error creates a new forbidden error
func New403Error() *CustomError {
	return newError(ErrorTypeForbidden, "Access forbidden", http.StatusForbidden, nil)
}

// New404Error creates a new not found error
func New404Error(message string) *CustomError {
	return newError(ErrorTypeNotFound, message, http.StatusNotFound, nil)
}

// New500Error creates a new internal server error
func New500Error(internal error) *CustomError {
	return newError(ErrorTypeInternalServerError, "An unexpected error occurred", http.StatusInternalServerError, internal)
}

func NewProfileNotFound() *CustomError {
	return newError(ErrorTypeProfileNotFound, "User profile not found", http.StatusNotFound, nil)
}

func NewTrialLimitReached(allowance int) *CustomError {
	e := newError(ErrorTypeTrialLimitReached,
		"Your free trial analyses are used up. Top up your wallet or upgrade to continue.",
		http.StatusPaymentRequired, nil)
	e.Details = map[string]any{"trial_allowance": allowance}
	return e
}

// NewInsufficientFunds reports that the wallet cannot cover required.
// required is zero when the request was rejected before its cost was known.
func NewInsufficientFunds(required, available float64) *CustomError {
	e := newError(ErrorTypeInsufficientFunds,
		"Insufficient credit balance. Please top up your wallet.",
		http.StatusPaymentRequired, nil)
	e.Details = map[string]any{"required": required, "available": available}
	return e
}

func NewGenerationError(internal error) *CustomError {
	return newError(ErrorTypeGenerationFailed,
		"The AI analysis could not be generated. Please try again later.",
		http.StatusBadGateway, internal)
}

// Is reports whether err is a CustomError of type t.
func Is(err error, t ErrorType) bool {
	var customErr *CustomError
	return stderrors.As(err, &customErr) && customErr.Type == t
}

// HandleError handles the custom error and sends an appropriate JSON response
func HandleError(c *gin.Context, err error) {
	var customErr *CustomError
	if !stderrors.As(err, &customErr) {
		customErr = New500Error(err)
	}

	logger := zerolog.Ctx(c.Request.Context())
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}

	switch {
	case customErr.StatusCode >= http.StatusInternalServerError:
		logger.Error().
			Err(customErr.Internal).
			Str("type", string(customErr.Type)).
			Str("url", c.Request.URL.String()).
			Msg("request failed")
	default:
		logger.Info().
			Str("type", string(customErr.Type)).
			Str("url", c.Request.URL.String()).
			Msg(customErr.Message)
	}

	body := gin.H{
		"error": customErr.Message,
		"type":  customErr.Type,
	}
	for k, v := range customErr.Details {
		body[k] = v
	}
	c.AbortWithStatusJSON(customErr.StatusCode, body)
}
