package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// newValidator creates a validator that reports fields by their document names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validateStruct runs struct tag validation and classifies failures. Unset
// required fields come first so that IsMissingRequired sees them before any
// constraint failure.
func validateStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return NewValidationError("", "invalid configuration", err)
	}

	var missing, invalid []error
	for _, fe := range fieldErrs {
		path := fieldPath(fe.Namespace())
		if fe.Tag() == "required" {
			missing = append(missing, NewMissingRequiredError(path))
			continue
		}
		invalid = append(invalid, NewValidationError(path, constraintMessage(fe), nil))
	}

	return errors.Join(append(missing, invalid...)...)
}

// fieldPath drops the root struct name from a validator namespace,
// "TrainScriptConfig.train.batch_size" becoming "train.batch_size".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func constraintMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at least %s element(s)", fe.Param())
		}
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("must be greater than %s, got %v", fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %q constraint", fe.Tag())
	}
}
