package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "tempo/pkg/domain-errors"
)

// appNamePattern matches catalog keys such as "google-calendar".
var appNamePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields under their JSON names so messages match the payload.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return strings.ToLower(f.Name)
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("appname", func(fl validator.FieldLevel) bool {
		return IsAppName(fl.Field().String())
	})
	return v
}

// IsAppName reports whether name is a well-formed app catalog key.
func IsAppName(name string) bool {
	return len(name) <= 64 && appNamePattern.MatchString(name)
}

// Validate validates a struct using the default validator and returns a domain error.
func Validate(req any) error {
	if err := defaultValidator.Struct(req); err != nil {
		return dErrors.New(dErrors.CodeValidation, ErrorMessage(err))
	}
	return nil
}

// ErrorMessage converts the first validator failure into a readable message.
func ErrorMessage(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return "invalid request body"
	}

	fe := validationErrs[0]
	field := fe.Field()
	if field == "" {
		field = strings.ToLower(fe.StructField())
	}

	switch fe.ActualTag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "url":
		return fmt.Sprintf("%s must be a valid url", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s long", field, fe.Param())
	case "e164":
		return fmt.Sprintf("%s must be an E.164 phone number", field)
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be after %s", field, strings.ToLower(fe.Param()))
	case "notblank":
		return fmt.Sprintf("%s must not be blank", field)
	case "appname":
		return fmt.Sprintf("%s must be a lowercase app name", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
