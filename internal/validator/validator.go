package validator

import (
	"net/mail"
	"regexp"
	"slices"
	"strings"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"golang.org/x/exp/constraints"
)

var (
	RgxEmail       = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")
	RgxPhoneNumber = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)

	// RgxMobileMoneyPhone is the normalised EcoCash/OneMoney/Telecash wallet number.
	RgxMobileMoneyPhone = regexp.MustCompile(`^2637[137][0-9]{7}$`)
)

type Validator struct {
	Errors      []string          `json:",omitempty"`
	FieldErrors map[string]string `json:",omitempty"`
}

func (v Validator) HasErrors() bool {
	return len(v.Errors) != 0 || len(v.FieldErrors) != 0
}

func (v *Validator) AddError(message string) {
	if v.Errors == nil {
		v.Errors = []string{}
	}

	v.Errors = append(v.Errors, message)
}

// AddFieldError keeps the first message recorded for a field.
func (v *Validator) AddFieldError(key, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = map[string]string{}
	}

	if _, exists := v.FieldErrors[key]; !exists {
		v.FieldErrors[key] = message
	}
}

func (v *Validator) Check(ok bool, message string) {
	if !ok {
		v.AddError(message)
	}
}

func (v *Validator) CheckField(ok bool, key, message string) {
	if !ok {
		v.AddFieldError(key, message)
	}
}

// Err folds the collected messages into a single validation error, or nil.
func (v *Validator) Err() error {
	if !v.HasErrors() {
		return nil
	}

	messages := slices.Clone(v.Errors)
	keys := make([]string, 0, len(v.FieldErrors))
	for k := range v.FieldErrors {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		messages = append(messages, v.FieldErrors[k])
	}

	err := apperror.Validation("Validation failed", messages...)
	if len(keys) == 1 && len(v.Errors) == 0 {
		err.Field = keys[0]
	}
	return err
}

func NotBlank(value string) bool {
	return strings.TrimSpace(value) != ""
}

func MinRunes(value string, n int) bool {
	return len([]rune(strings.TrimSpace(value))) >= n
}

func MaxRunes(value string, n int) bool {
	return len([]rune(value)) <= n
}

func Between[T constraints.Ordered](value, min, max T) bool {
	return value >= min && value <= max
}

func PermittedValue[T comparable](value T, permittedValues ...T) bool {
	return slices.Contains(permittedValues, value)
}

func Matches(value string, rx *regexp.Regexp) bool {
	return rx.MatchString(value)
}

func IsEmail(value string) bool {
	if len(value) > 254 {
		return false
	}

	if !RgxEmail.MatchString(value) {
		return false
	}

	_, err := mail.ParseAddress(value)
	return err == nil
}

// NormalizeMobileMoneyPhone turns "+263 77 123 4567" or "0771234567" into "263771234567".
func NormalizeMobileMoneyPhone(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if strings.HasPrefix(digits, "0") && len(digits) == 10 {
		digits = "263" + digits[1:]
	}
	return digits
}

func IsMobileMoneyPhone(value string) bool {
	return RgxMobileMoneyPhone.MatchString(NormalizeMobileMoneyPhone(value))
}
