package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldError is one failed rule, named by the field's json tag.
type FieldError struct {
	Field string
	Tag   string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s %s", e.Field, e.Tag)
}

// Errors is returned by Struct when at least one rule fails.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.String())
	}
	return strings.Join(parts, "; ")
}

// Fields lists the failing field names in order.
func (e Errors) Fields() []string {
	out := make([]string, 0, len(e))
	for _, fe := range e {
		out = append(out, fe.Field)
	}
	return out
}

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New()
		instance.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return instance
}

// Struct validates a single struct object
func Struct(s interface{}) error {
	if s == nil {
		return fmt.Errorf("is nil")
	}
	if !isStruct(s) {
		return fmt.Errorf("not a struct")
	}

	var validationErrors validator.ValidationErrors
	var invalidValidationError *validator.InvalidValidationError

	err := get().Struct(s)
	if err == nil {
		return nil
	}

	if errors.As(err, &validationErrors) {
		out := make(Errors, 0, len(validationErrors))
		for _, fieldErr := range validationErrors {
			out = append(out, FieldError{Field: fieldErr.Field(), Tag: fieldErr.Tag()})
		}
		return out
	} else if errors.As(err, &invalidValidationError) {
		return fmt.Errorf("invalid validation error: %w", err)
	}
	return fmt.Errorf("unknown validation error: %w", err)
}

func isStruct(s interface{}) bool {
	r := reflect.TypeOf(s)
	if r.Kind() == reflect.Ptr {
		r = r.Elem()
	}
	return r.Kind() == reflect.Struct
}
