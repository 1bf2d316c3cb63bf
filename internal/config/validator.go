package config

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	millerrors "github.com/avelline/marketmill/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	memLimitPattern = regexp.MustCompile(`(?i)^\d+(\.\d+)?\s*(KB|MB|GB|TB|KiB|MiB|GiB|TiB)$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("mem_limit", func(fl validator.FieldLevel) bool {
			return memLimitPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// Validate performs schema and cross-field validation on the configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return millerrors.NewValidationError("config", "configuration is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	if cfg.MarketHours.CloseHour < cfg.MarketHours.OpenHour {
		return millerrors.NewValidationError(
			"market_hours",
			fmt.Sprintf("close_hour %d is before open_hour %d", cfg.MarketHours.CloseHour, cfg.MarketHours.OpenHour),
			nil,
		)
	}

	return nil
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return millerrors.NewValidationError(field, msg, err)
	}

	return millerrors.NewValidationError("config", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	parts := strings.Split(ns, ".")
	var lowered []string
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}
