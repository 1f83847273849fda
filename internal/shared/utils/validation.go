package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxMessageSize bounds one gateway frame.
	MaxMessageSize = 64 * 1024
	// MaxInputSize bounds one terminal-input payload.
	MaxInputSize = 32 * 1024

	MaxIDLength       = 128
	MaxIdentityLength = 255

	MinDimension = 1
	MaxDimension = 1000
)

// FieldError reports which request field was rejected.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Reason
}

func reject(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// charset reports whether every byte of s is an ASCII letter, a digit or
// one of extra.
func charset(s, extra string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case strings.IndexByte(extra, c) >= 0:
		default:
			return false
		}
	}
	return true
}

func checkLength(field, value string, maxRunes int) error {
	if n := utf8.RuneCountInString(value); n > maxRunes {
		return reject(field, "must not exceed %d characters", maxRunes)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return reject(field, "contains a NUL byte")
	}
	return nil
}

// ValidateUserID checks an external identity key. Separators used by
// common identity providers (a@b, github|1, org:team) are accepted.
func ValidateUserID(userID string) error {
	if userID == "" {
		return reject("userId", "is required")
	}
	if err := checkLength("userId", userID, MaxIDLength); err != nil {
		return err
	}
	if !charset(userID, "-_.@:|") {
		return reject("userId", "contains invalid characters")
	}
	return nil
}

// ValidateProjectID checks a project id. It becomes a directory name under
// the workspace root, so only letters, digits, '-' and '_' are allowed.
func ValidateProjectID(projectID string) error {
	if projectID == "" {
		return reject("projectId", "is required")
	}
	if err := checkLength("projectId", projectID, MaxIDLength); err != nil {
		return err
	}
	if !charset(projectID, "-_") {
		return reject("projectId", "may only contain letters, digits, '-' and '_'")
	}
	return nil
}

// ValidateDisplayIdentity checks the optional display identity, usually
// an email address.
func ValidateDisplayIdentity(identity string) error {
	return checkLength("displayIdentity", identity, MaxIdentityLength)
}

func ValidateDimensions(cols, rows int) error {
	for _, d := range []struct {
		field string
		value int
	}{{"cols", cols}, {"rows", rows}} {
		if d.value < MinDimension || d.value > MaxDimension {
			return reject(d.field, "must be between %d and %d, got %d", MinDimension, MaxDimension, d.value)
		}
	}
	return nil
}

func ValidateInput(data []byte) error {
	if len(data) > MaxInputSize {
		return reject("data", "of %d bytes exceeds %d", len(data), MaxInputSize)
	}
	return nil
}
