package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"envelopes/internal/core"
	applog "envelopes/internal/log"
)

const maxBodyBytes = 1 << 20

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Field  string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeProblem(w http.ResponseWriter, p ProblemDetail) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeError maps ledger errors onto problem responses. Unexpected errors are
// logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := ProblemDetail{Detail: err.Error()}
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		p.Status, p.Title, p.Field = http.StatusBadRequest, "Validation failed", ve.Field
	case errors.Is(err, core.ErrValidation):
		p.Status, p.Title = http.StatusBadRequest, "Validation failed"
	case errors.Is(err, core.ErrUnauthenticated):
		p.Status, p.Title = http.StatusUnauthorized, "Unauthenticated"
	case errors.Is(err, core.ErrForbidden):
		p.Status, p.Title = http.StatusForbidden, "Forbidden"
	case errors.Is(err, core.ErrNotFound):
		p.Status, p.Title = http.StatusNotFound, "Not found"
	case errors.Is(err, core.ErrArchived), errors.Is(err, core.ErrImmutable), errors.Is(err, core.ErrConflict):
		p.Status, p.Title = http.StatusConflict, "Conflict"
	default:
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldError, err)
		p.Status, p.Title, p.Detail = http.StatusInternalServerError, "Internal error", ""
	}
	writeProblem(w, p)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and runs its validate tags. The first
// failing field becomes a ValidationError.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, core.ErrValidation) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return core.Invalid("body", "is required")
		}
		return core.Invalid("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return core.Invalid(fe.Field(), describe(fe))
		}
		return core.Invalid("body", err.Error())
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	}
	return "failed " + fe.Tag() + " check"
}

// amountField accepts an amount either as integer cents or as a human string
// such as "$1,234.56".
type amountField struct {
	AmountCents *int64 `json:"amount_cents"`
	Amount      string `json:"amount"`
}

func (a amountField) money() (*core.Money, error) {
	switch {
	case a.AmountCents != nil:
		m := core.Cents(*a.AmountCents)
		return &m, nil
	case strings.TrimSpace(a.Amount) != "":
		m, err := core.ParseMoney(a.Amount)
		if err != nil {
			return nil, core.Invalid("amount", "must be a dollar amount such as 12.34")
		}
		return &m, nil
	}
	return nil, nil
}

func (a amountField) required() (core.Money, error) {
	m, err := a.money()
	if err != nil {
		return core.Money{}, err
	}
	if m == nil {
		return core.Money{}, core.Invalid("amount_cents", "is required")
	}
	return *m, nil
}
