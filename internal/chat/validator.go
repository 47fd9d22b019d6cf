package chat

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxNameChars = 64   // max participant name length
	MaxTextChars = 2000 // max message character count
)

// maxStripRounds bounds how many layers of entity encoding are peeled off.
const maxStripRounds = 8

var stripPolicy = bluemonday.StrictPolicy()

// Sanitize removes all markup from s and trims surrounding whitespace.
// Entity-encoded markup is decoded and stripped again until the result is
// stable, so the decoded text never contains a tag. Input that does not
// settle within maxStripRounds sanitizes to the empty string.
func Sanitize(s string) string {
	clean := stripPolicy.Sanitize(s)
	for range maxStripRounds {
		next := stripPolicy.Sanitize(html.UnescapeString(clean))
		if next == clean {
			return strings.TrimSpace(html.UnescapeString(clean))
		}
		clean = next
	}
	return ""
}

// SanitizeName returns the cleaned participant name or an ErrInvalidInput
// error if nothing usable remains.
func SanitizeName(name string) (string, error) {
	clean := Sanitize(name)
	if clean == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(clean) > MaxNameChars {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, MaxNameChars)
	}
	return clean, nil
}

// SanitizeText checks that a message body meets content requirements after
// markup stripping.
func SanitizeText(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("%w: text contains invalid UTF-8", ErrInvalidInput)
	}
	clean := Sanitize(text)
	if clean == "" {
		return "", fmt.Errorf("%w: text is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(clean) > MaxTextChars {
		return "", fmt.Errorf("%w: text exceeds %d characters", ErrInvalidInput, MaxTextChars)
	}
	return clean, nil
}

// identity normalizes a requester name taken from a request header.
func identity(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: participant name is required", ErrInvalidInput)
	}
	return name, nil
}
