// Package validation содержит функции валидации входных данных.
package validation

import (
	"regexp"
	"strings"

	"github.com/mmeshcher/escobar-tracker/internal/model"
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,20}$`)

// IsValidHandle проверяет логин участника: 3-20 символов из букв, цифр и ._-.
func IsValidHandle(handle string) bool {
	return handlePattern.MatchString(strings.TrimSpace(handle))
}

// CanonicalHandle приводит логин к каноничной форме для поиска.
func CanonicalHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// DisplayHandle возвращает логин в том регистре, в котором его ввёл участник.
func DisplayHandle(handle string) string {
	return strings.TrimSpace(handle)
}

// Handle проверяет логин и возвращает его отображаемую и каноничную формы.
func Handle(handle string) (display, canonical string, err error) {
	if !IsValidHandle(handle) {
		return "", "", model.ErrInvalidHandle
	}
	return DisplayHandle(handle), CanonicalHandle(handle), nil
}

// Amount проверяет, что сумма положительна.
func Amount(amount int64) error {
	if amount <= 0 {
		return model.ErrInvalidAmount
	}
	return nil
}

// Reason обрезает пробелы и проверяет, что причина не пустая.
func Reason(reason string) (string, error) {
	r := strings.TrimSpace(reason)
	if r == "" {
		return "", model.ErrEmptyReason
	}
	return r, nil
}
