// Package errs maps application failures onto the HTTP error envelope.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrCode classifies an API error.
type ErrCode string

const (
	InvalidArgument    ErrCode = "InvalidArgument"
	NotFound           ErrCode = "NotFound"
	FailedPrecondition ErrCode = "FailedPrecondition"
	TooLarge           ErrCode = "TooLarge"
	Unavailable        ErrCode = "Unavailable"
	Internal           ErrCode = "Internal"
)

var httpStatus = map[ErrCode]int{
	InvalidArgument:    http.StatusBadRequest,
	NotFound:           http.StatusNotFound,
	FailedPrecondition: http.StatusConflict,
	TooLarge:           http.StatusRequestEntityTooLarge,
	Unavailable:        http.StatusServiceUnavailable,
	Internal:           http.StatusInternalServerError,
}

// Error is the body of every failed response.
type Error struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// HTTPStatus returns the status code for the error's code.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New wraps err with code. Validation errors keep their per-field detail.
func New(code ErrCode, err error) *Error {
	e := &Error{Code: code, Message: err.Error()}
	var fe FieldErrors
	if errors.As(err, &fe) {
		e.Message = "request validation failed"
		e.Fields = fe
	}
	return e
}

// Newf builds an error from a format string.
func Newf(code ErrCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FieldErrors maps a JSON field name to what is wrong with it.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for f, msg := range fe {
		parts = append(parts, f+": "+msg)
	}
	return strings.Join(parts, "; ")
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}()

// Check validates v using its `validate` struct tags.
func Check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := make(FieldErrors, len(verrs))
	for _, ve := range verrs {
		fe[ve.Field()] = describe(ve)
	}
	return fe
}

func describe(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + ve.Param() + " characters"
	case "uuid":
		return "must be a UUID"
	default:
		return "failed " + ve.Tag() + " validation"
	}
}

// Write sends err as a JSON error response.
func Write(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(err)
}
