package feed

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"example.com/postfeed/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	slugPattern     = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)
	usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)
)

// Validator checks mutation inputs against their struct tags.
var Validator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

// check runs struct validation and reports the first failure as a *models.ValidationError.
func check(in any) error {
	return asValidation(Validator.Struct(in))
}

func checkVar(field string, value any, tag string) error {
	err := asValidation(Validator.Var(value, tag))
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		ve.Field = field
	}
	return err
}

func asValidation(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &models.ValidationError{Field: fe.Field(), Reason: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "slug":
		return "may contain only letters, digits, hyphens and underscores"
	case "username":
		return "may contain only letters, digits and @/./+/-/_"
	}
	return "is invalid"
}
