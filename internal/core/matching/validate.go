package matching

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/agenthands/fusion/internal/core/model"
)

var ErrInvalidConfig = errors.New("invalid matching config")

// FieldError describes one rejected field.
type FieldError struct {
	Field string
	Rule  string
	Value any
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s: rule %q (value: %v)", f.Field, f.Rule, f.Value)
}

// ValidationError lists every rejected field of a config. It unwraps to ErrInvalidConfig.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.String()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	_ = validate.RegisterValidation("stage", func(fl validator.FieldLevel) bool {
		return model.Stage(fl.Field().String()).Valid()
	})

	_ = validate.RegisterValidation("threshold_name", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		for _, known := range ThresholdNames {
			if name == known {
				return true
			}
		}
		return false
	})
}

// Validate checks threshold ranges, the stage vocabulary and threshold names.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		out.Fields = append(out.Fields, FieldError{Field: field, Rule: fe.Tag(), Value: fe.Value()})
	}
	return out
}
