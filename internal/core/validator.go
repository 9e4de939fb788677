package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"copyforge/internal/types"
)

// ValidationError describes one failed field rule.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the domain's enum tags.
// Field names in errors are taken from the json tag.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	rules := map[string]validator.Func{
		"content_type": func(fl validator.FieldLevel) bool {
			return types.ContentType(fl.Field().String()).IsValid()
		},
		"tone": func(fl validator.FieldLevel) bool {
			return types.Tone(fl.Field().String()).IsValid()
		},
		"emoji_policy": func(fl validator.FieldLevel) bool {
			return types.EmojiPolicy(fl.Field().String()).IsValid()
		},
		"paid_tier": func(fl validator.FieldLevel) bool {
			return types.Tier(fl.Field().String()).IsPaid()
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			// Only fails on an empty tag or nil func.
			panic(fmt.Sprintf("register validation %q: %v", tag, err))
		}
	}

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct returns nil or a validation_invalid_request AppError whose
// details carry every failed field under "validation_errors".
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("struct validation could not run", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, toValidationError(fe))
	}

	msg := "request validation failed"
	if len(out) == 1 {
		msg = out[0].Message
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidRequest,
		msg,
		err,
		map[string]any{"validation_errors": out},
	)
}

func toValidationError(fe validator.FieldError) ValidationError {
	field := fe.Field()
	ve := ValidationError{Field: field, Code: string(types.ErrCodeValidationInvalidRequest)}

	switch fe.Tag() {
	case "required":
		ve.Code = string(types.ErrCodeValidationMissingField)
		ve.Message = field + " is required"
	case "max":
		ve.Message = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "content_type":
		ve.Message = field + " must be one of " + joinValues(types.ContentTypes)
	case "tone":
		ve.Message = field + " must be one of " + joinValues(types.Tones)
	case "emoji_policy":
		ve.Message = field + " must be none or allowed"
	case "paid_tier":
		ve.Message = field + " must be starter, pro or business"
	default:
		ve.Message = fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
	return ve
}

func joinValues[T ~string](vals []T) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
