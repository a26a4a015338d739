package appcore

import (
	"fmt"
	"regexp"
	"slices"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidateRequired проверяет, что строка не пустая
func ValidateRequired(field, value string) error {
	if value == "" {
		return NewValidationError(field, "is required")
	}
	return nil
}

// ValidateMaxLength проверяет максимальную длину строки
func ValidateMaxLength(field, value string, maxLength int) error {
	if len(value) > maxLength {
		return NewValidationError(field, fmt.Sprintf("must be at most %d characters", maxLength))
	}
	return nil
}

// ValidateEnum проверяет, что значение находится в списке допустимых
func ValidateEnum(field, value string, allowedValues []string) error {
	if slices.Contains(allowedValues, value) {
		return nil
	}
	return NewValidationError(field, fmt.Sprintf("must be one of: %v", allowedValues))
}

// ValidatePositiveAmount checks a minor-unit amount
func ValidatePositiveAmount(field string, value int64) error {
	if value <= 0 {
		return NewValidationError(field, "must be positive")
	}
	return nil
}

// ValidateCurrency checks an ISO 4217 alphabetic code
func ValidateCurrency(field, value string) error {
	if !currencyPattern.MatchString(value) {
		return NewValidationError(field, "must be a 3-letter ISO currency code")
	}
	return nil
}
