// Package validator wraps go-playground/validator with the portal's custom rules.
package validator

import (
	"fmt"
	"html"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// Cooperative union names carry a short code as their first token, e.g. "CORECU Ltd".
var coopName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*( [A-Za-z0-9.&'-]+)*$`)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, e := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"Field '%s' failed validation '%s'",
					e.Field(),
					e.Tag(),
				))
			}
			return fmt.Errorf("validation failed: %v", errMessages)
		}
		return err
	}
	return nil
}

// ValidateStructured returns a map of field -> error message for frontend usage
func (v *Validator) ValidateStructured(i interface{}) map[string]string {
	errs := make(map[string]string)
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				msg := fmt.Sprintf("failed validation on '%s'", e.Tag())
				switch e.Tag() {
				case "required":
					msg = "This field is required"
				case "min":
					msg = fmt.Sprintf("Must be at least %s characters", e.Param())
				case "max":
					msg = fmt.Sprintf("Must be at most %s characters", e.Param())
				case "gt":
					msg = fmt.Sprintf("Must be greater than %s", e.Param())
				case "pin":
					msg = fmt.Sprintf("PIN must be exactly %s digits", pinLength(e.Param()))
				case "coop_name":
					msg = "Invalid cooperative name"
				case "oneof":
					msg = fmt.Sprintf("Must be one of: %s", e.Param())
				}
				errs[e.Field()] = msg
			}
		} else {
			errs["_global"] = err.Error()
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (v *Validator) registerCustomValidations() {
	// Register decimal.Decimal to be validated as float64 for gt/lt checks
	v.validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if val, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := val.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	// pin or pin=N: exactly N digits, 6 when no parameter is given.
	_ = v.validate.RegisterValidation("pin", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		n, _ := strconv.Atoi(pinLength(fl.Param()))
		return len(s) == n && digitsOnly.MatchString(s)
	})

	_ = v.validate.RegisterValidation("coop_name", func(fl validator.FieldLevel) bool {
		return coopName.MatchString(strings.TrimSpace(fl.Field().String()))
	})
}

func pinLength(param string) string {
	if param == "" {
		return "6"
	}
	return param
}

// Sanitize cleans string input to prevent XSS attacks
func Sanitize(input string) string {
	return html.EscapeString(strings.TrimSpace(input))
}
