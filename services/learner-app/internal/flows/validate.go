package flows

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	msgRequired         = "Please fill in this field."
	msgInvalidEmail     = "Please enter a valid email address."
	msgShortPassword    = "Password must be at least 6 characters."
	msgPasswordMismatch = "Passwords do not match."
	msgInvalidPhone     = "Invalid phone number format."
)

const (
	minPasswordLength = 6
	// defaultRegion applies to numbers entered without a calling code.
	defaultRegion = "PK"
)

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// FieldErrors maps a form field name to the message shown under it.
type FieldErrors map[string]string

func (f FieldErrors) Empty() bool {
	return len(f) == 0
}

func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// NormalizePhone returns the number in E.164 form. Numbers without a calling
// code are read as Pakistani. Numbers no carrier could ever assign are
// rejected.
func NormalizePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	number, err := phonenumbers.Parse(raw, defaultRegion)
	if err != nil || !phonenumbers.IsValidNumber(number) {
		return "", false
	}
	return phonenumbers.Format(number, phonenumbers.E164), true
}

func requireField(errs FieldErrors, field, value string) bool {
	if strings.TrimSpace(value) == "" {
		errs[field] = msgRequired
		return false
	}
	return true
}

func validatePassword(errs FieldErrors, field, password, confirmField, confirmation string) {
	if password == "" {
		errs[field] = msgRequired
	} else if len(password) < minPasswordLength {
		errs[field] = msgShortPassword
	}
	if confirmation == "" {
		errs[confirmField] = msgRequired
	} else if password != confirmation {
		errs[confirmField] = msgPasswordMismatch
	}
}
