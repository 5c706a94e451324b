package validation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/model-forge/model-forge/pkg/api"
)

// NewValidator returns the validator used for configuration and backend results.
// It knows the custom devicekind tag.
func NewValidator() (*validator.Validate, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("devicekind", validateDeviceKind); err != nil {
		return nil, err
	}
	return validate, nil
}

func validateDeviceKind(fl validator.FieldLevel) bool {
	_, err := api.GetDeviceKind(fl.Field().String())
	return err == nil
}

// Struct validates v and logs every failing field before returning the error.
func Struct(ctx context.Context, logger *slog.Logger, validate *validator.Validate, v any) error {
	err := validate.StructCtx(ctx, v)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, validationError := range validationErrors {
				logger.Info("Validation error", "field", validationError.Namespace(), "tag", validationError.Tag(), "value", validationError.Value())
			}
		}
		return err
	}
	return nil
}
