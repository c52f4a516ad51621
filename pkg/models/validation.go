package models

import (
	"github.com/distribution/reference"
	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator with the custom tags used by the models
// ("schedule" and "docker_image") registered.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	_ = validate.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
		return ValidateSchedule(fl.Field().String()) == nil
	})

	_ = validate.RegisterValidation("docker_image", func(fl validator.FieldLevel) bool {
		_, err := reference.ParseNormalizedNamed(fl.Field().String())

		return err == nil
	})

	return validate
}
