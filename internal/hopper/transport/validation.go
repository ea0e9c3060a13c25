package transport

import (
	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/platform/validator"

	playground "github.com/go-playground/validator/v10"
)

// RegisterValidations installs the hopper's custom tags on val.
func RegisterValidations(val *validator.Validator) error {
	return val.RegisterValidation("disposition", func(fl playground.FieldLevel) bool {
		_, err := domain.ParseDisposition(fl.Field().String())
		return err == nil
	})
}
