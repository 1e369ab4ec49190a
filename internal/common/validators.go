package common

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail validates email format
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 || !emailPattern.MatchString(email) {
		return fmt.Errorf("email has invalid format")
	}
	return nil
}

var legalIDPattern = regexp.MustCompile(`^\d{7,8}-[\dkK]$`)

// ValidateLegalID validates a national legal id of the form NNNNNNNN-D where
// D is a modulo-11 check digit (K stands for 10).
func ValidateLegalID(legalID string) error {
	legalID = strings.TrimSpace(legalID)
	if legalID == "" {
		return fmt.Errorf("legal id is required")
	}
	if !legalIDPattern.MatchString(legalID) {
		return fmt.Errorf("legal id must match NNNNNNNN-D")
	}

	parts := strings.SplitN(legalID, "-", 2)
	body, check := parts[0], strings.ToUpper(parts[1])

	sum := 0
	factor := 2
	for i := len(body) - 1; i >= 0; i-- {
		sum += int(body[i]-'0') * factor
		factor++
		if factor > 7 {
			factor = 2
		}
	}
	remainder := 11 - (sum % 11)
	var expected string
	switch remainder {
	case 11:
		expected = "0"
	case 10:
		expected = "K"
	default:
		expected = fmt.Sprintf("%d", remainder)
	}

	if check != expected {
		return fmt.Errorf("legal id has an invalid check digit")
	}
	return nil
}

// ValidatePassword enforces the minimum credential policy: at least 8
// characters with one uppercase letter, one digit and one symbol.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	var hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if !hasUpper || !hasDigit || !hasSymbol {
		return fmt.Errorf("password must contain an uppercase letter, a digit and a symbol")
	}
	return nil
}

// ValidateAdultDateOfBirth checks the subject is at least 18 years old.
func ValidateAdultDateOfBirth(dob time.Time) error {
	if dob.After(time.Now()) {
		return fmt.Errorf("date of birth cannot be in the future")
	}
	if dob.After(time.Now().AddDate(-18, 0, 0)) {
		return fmt.Errorf("must be at least 18 years old")
	}
	return nil
}

// ValidateRequiredString validates required string fields
func ValidateRequiredString(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
