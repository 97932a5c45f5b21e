package models

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("role", func(fl validator.FieldLevel) bool {
			return IsValidRole(Role(fl.Field().String()))
		})
		_ = validate.RegisterValidation("meterkind", func(fl validator.FieldLevel) bool {
			return MeterKind(fl.Field().String()).IsValid()
		})
		_ = validate.RegisterValidation("fuellevel", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || FuelLevel(s).IsValid()
		})
		_ = validate.RegisterValidation("tankfill", func(fl validator.FieldLevel) bool {
			return TankFill(fl.Field().String()).IsValid()
		})
	})
	return validate
}

// Validate checks struct tags on v and reports failures as a *ValidationError keyed by
// the lower-cased field name.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: map[string]string{"_": err.Error()}}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = describe(fe)
	}
	return &ValidationError{Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return "must be at least " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "role", "meterkind", "fuellevel", "tankfill":
		return "has an unknown value"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
