package content

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const MaxMessageLength = 4000

var (
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrMessageTooLong = errors.New("message is too long")
)

var (
	policy        = bluemonday.UGCPolicy()
	strictPolicy  = bluemonday.StrictPolicy()
	identityRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)
)

// Sanitize removes unsafe HTML from the input string while keeping
// formatting tags. Used for anything rendered as HTML.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// PlainText strips every tag and returns readable text for terminal output.
func PlainText(input string) string {
	return html.UnescapeString(strictPolicy.Sanitize(input))
}

// ValidateMessage checks an outgoing message text.
func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ValidateID checks that a participant or message id is non-empty and
// contains only safe characters (alphanumeric, dot, colon, dash, underscore).
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if !identityRegex.MatchString(id) {
		return errors.New("id contains invalid characters (allowed: alphanumeric, dot, colon, dash, underscore)")
	}
	return nil
}
