package core

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"flightdeck/internal/types"
)

// Validator wraps go-playground/validator and translates violations into
// domain validation errors.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator with struct-level required checking.
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateStruct checks dst against its validate tags. The first violation
// is returned as a validation_missing_required_field AppError with the
// offending field in details.
func (v *Validator) ValidateStruct(dst any) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"validation target must be a struct",
			err,
		)
	}

	var violations validator.ValidationErrors
	if errors.As(err, &violations) && len(violations) > 0 {
		first := violations[0]
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"request validation failed",
			err,
			map[string]any{
				"field": first.Field(),
				"rule":  first.Tag(),
			},
		)
	}

	return types.NewAppError(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		err,
	)
}
