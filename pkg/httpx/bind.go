package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxBodyBytes caps request bodies read by DecodeAndValidate.
const MaxBodyBytes = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their json name, not the Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// ValidationError lists the offending request fields, keyed by json name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	return "httpx: invalid request: " + strings.Join(keys, ", ")
}

// ErrBadJSON is returned when the body is not a single JSON object of the
// expected shape.
var ErrBadJSON = errors.New("httpx: malformed JSON body")

// DecodeAndValidate decodes a JSON body into T and runs its validate tags.
// It returns ErrBadJSON (wrapped) or a *ValidationError; it never writes
// to the response.
func DecodeAndValidate[T any](r *http.Request) (T, error) {
	var value T

	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&value); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return value, &ValidationError{Fields: map[string]string{typeErr.Field: "invalid type"}}
		}
		return value, fmt.Errorf("%w: %w", ErrBadJSON, err)
	}

	if err := validate.Struct(value); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return value, fmt.Errorf("%w: %w", ErrBadJSON, err)
		}
		return value, toValidationError(verrs)
	}
	return value, nil
}

func toValidationError(errs validator.ValidationErrors) *ValidationError {
	out := &ValidationError{Fields: make(map[string]string, len(errs))}
	for _, fe := range errs {
		var msg string
		switch fe.Tag() {
		case "required", "notblank":
			msg = "this field is required"
		case "email":
			msg = "must be a valid email address"
		case "min":
			msg = fmt.Sprintf("must be at least %s characters", fe.Param())
		case "max":
			msg = fmt.Sprintf("must be at most %s characters", fe.Param())
		case "oneof":
			msg = fmt.Sprintf("must be one of [%s]", fe.Param())
		default:
			msg = "invalid value"
		}
		out.Fields[fe.Field()] = msg
	}
	return out
}
