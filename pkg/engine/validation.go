package engine

import (
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// NamePattern is the shape of module, service, provider and runnable names.
var NamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

const maxNameLength = 128

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// NewValidator returns a validator with the "name" and "valueid" tags
// registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("name", func(fl validator.FieldLevel) bool {
		return NamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("valueid", func(fl validator.FieldLevel) bool {
		_, _, err := ParseValueIdentifier(fl.Field().String())
		return err == nil
	})
	return v
}

func sharedValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = NewValidator()
	})
	return validate
}

// ValidateName checks a module, service or runnable name passed to a public
// operation. Field names the argument in the returned ValidationError.
func ValidateName(field, value string) error {
	if err := sharedValidator().Var(value, "required,max=128,name"); err != nil {
		return &ValidationError{Field: field, Value: value, Reason: nameReason(value)}
	}
	return nil
}

func nameReason(value string) string {
	switch {
	case value == "":
		return "must not be empty"
	case len(value) > maxNameLength:
		return "must be at most 128 characters"
	default:
		return "must match " + NamePattern.String()
	}
}

// ParseValueIdentifier splits "<service>.<provider>" into its parts. The
// service part must be a valid name; the provider part is everything after
// the first dot and must be a valid name as well.
func ParseValueIdentifier(identifier string) (service, provider string, err error) {
	service, provider, ok := strings.Cut(identifier, ".")
	if !ok {
		return "", "", &ValidationError{
			Field:  "value identifier",
			Value:  identifier,
			Reason: "must have the form <service>.<provider>",
		}
	}
	if !NamePattern.MatchString(service) {
		return "", "", &ValidationError{Field: "value identifier", Value: identifier, Reason: "invalid service name"}
	}
	if !NamePattern.MatchString(provider) {
		return "", "", &ValidationError{Field: "value identifier", Value: identifier, Reason: "invalid provider name"}
	}
	return service, provider, nil
}
