package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"lifestyle-studio-server/modules/common/apierror"
)

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	// report json field names instead of Go field names
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return val
}

// Struct validates s by its `validate` tags and reports the first failing field.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apierror.Validation(fe.Field(), fmt.Sprintf("failed on '%s' validation", fe.Tag()))
	}
	return apierror.Validation("body", err.Error())
}
