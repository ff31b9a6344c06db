package errs

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	UserID      string `json:"user_id" validate:"required,max=8"`
	FrameworkID string `json:"framework_id" validate:"required"`
}

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     sample
		fields FieldErrors
	}{
		{name: "valid", in: sample{UserID: "u1", FrameworkID: "gdpr"}},
		{
			name:   "missing",
			in:     sample{},
			fields: FieldErrors{"user_id": "is required", "framework_id": "is required"},
		},
		{
			name:   "too long",
			in:     sample{UserID: "much-too-long", FrameworkID: "gdpr"},
			fields: FieldErrors{"user_id": "must be at most 8 characters"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Check(tt.in)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			var fe FieldErrors
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.fields, fe)
		})
	}
}

func TestNewAndWrite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    *Error
		status int
	}{
		{name: "invalid", err: New(InvalidArgument, errors.New("bad")), status: http.StatusBadRequest},
		{name: "not found", err: Newf(NotFound, "scan %s not found", "x"), status: http.StatusNotFound},
		{name: "precondition", err: New(FailedPrecondition, errors.New("no")), status: http.StatusConflict},
		{name: "too large", err: New(TooLarge, errors.New("big")), status: http.StatusRequestEntityTooLarge},
		{name: "internal", err: New(Internal, errors.New("boom")), status: http.StatusInternalServerError},
		{name: "unknown code", err: &Error{Code: "Weird"}, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			Write(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body Error
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Code, body.Code)
			assert.Equal(t, tt.err.Message, body.Message)
		})
	}
}

func TestNewKeepsFieldErrors(t *testing.T) {
	t.Parallel()

	e := New(InvalidArgument, Check(sample{}))
	assert.Equal(t, "request validation failed", e.Message)
	assert.Contains(t, e.Fields, "user_id")
}
