package lobby

import (
	"errors"
	"reflect"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/putto11262002/lobby/core"
)

var validate *validator.Validate
var uniTrans *ut.UniversalTranslator

func registerMessage(trans ut.Translator, tag, text string) {
	validate.RegisterTranslation(tag, trans, func(ut ut.Translator) error {
		return ut.Add(tag, text, true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T(tag, fe.Field(), fe.Param())
		return t
	})
}

func init() {

	validate = validator.New()
	en := en.New()
	uniTrans = ut.New(en, en)
	enTrans, _ := uniTrans.GetTranslator("en")

	// payload fields are reported by their json name, config fields by their lowercased name
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
		return strings.ToLower(field.Name)
	})

	validate.RegisterValidation("port", func(fl validator.FieldLevel) bool {
		port, ok := fl.Field().Interface().(int)
		if !ok {
			return false
		}
		return port > 0 && port <= 65535
	})

	validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		return gronx.IsValid(fl.Field().String())
	})

	registerMessage(enTrans, "required", "{0} is a required field")
	registerMessage(enTrans, "required_with", "{0} is required when {1} is set")
	registerMessage(enTrans, "hostname", "{0} must be a valid hostname")
	registerMessage(enTrans, "base64", "{0} must be a valid base64 encoded string")
	registerMessage(enTrans, "port", "{0} must be a valid port number")
	registerMessage(enTrans, "cron", "{0} must be a valid cron expression")
	registerMessage(enTrans, "oneof", "{0} must be one of [{1}]")
	registerMessage(enTrans, "gt", "{0} must be greater than {1}")
	registerMessage(enTrans, "gte", "{0} must be at least {1}")
	registerMessage(enTrans, "max", "{0} must be at most {1} characters")
	registerMessage(enTrans, "min", "{0} must be at least {1} long")
}

// validatePayload validates an inbound payload and turns the first failure into an
// error whose message can be returned to the client.
func validatePayload(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}
	trans, _ := uniTrans.GetTranslator("en")
	return core.NewInsensitiveError(errs[0].Translate(trans))
}
