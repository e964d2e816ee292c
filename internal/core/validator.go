package core

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"hookrouter/internal/types"
)

// Validator wraps go-playground/validator for request DTOs. Field names in
// error details use the json tag so clients see the names they sent.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator with the channeltype tag registered.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("channeltype", func(fl validator.FieldLevel) bool {
		return types.ChannelType(fl.Field().String()).IsKnown()
	})
	return &Validator{v: v}
}

// ValidateStruct checks dst and converts failures into a
// validation_missing_required_field or validation_invalid_payload AppError
// whose details map each failing field to the rule it broke.
func (v *Validator) ValidateStruct(dst any) error {
	err := v.v.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid request", err)
	}

	code := types.ErrCodeValidationInvalidPayload
	details := make(map[string]any, len(verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			code = types.ErrCodeValidationMissingField
		}
		details[fe.Field()] = fe.Tag()
		fields = append(fields, fe.Field())
	}
	return types.NewAppErrorWithDetails(code, "invalid fields: "+strings.Join(fields, ", "), err, details)
}
