package forms

import (
	"errors"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

// Validation reasons.
const (
	ReasonMissingField   = "missing field"
	ReasonBadEmailFormat = "bad email format"
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,4}$`)

var namePolicy = bluemonday.StrictPolicy()

// ValidationError reports input rejected before any provider call.
type ValidationError struct {
	Reason string
	// Text is the message rendered next to the form.
	Text string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Reason
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// ValidEmail reports whether email matches the accepted local@domain.tld shape.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// NormalizeDisplayName strips markup, applies NFC and trims whitespace.
func NormalizeDisplayName(name string) string {
	cleaned := namePolicy.Sanitize(name)
	// StrictPolicy escapes what it keeps; the name is rendered through templ
	// which escapes again, so undo the entity encoding of plain characters.
	cleaned = unescapeBasic(cleaned)
	return strings.TrimSpace(norm.NFC.String(cleaned))
}

var basicEntities = strings.NewReplacer(
	"&amp;", "&",
	"&#39;", "'",
	"&#34;", `"`,
	"&quot;", `"`,
	"&lt;", "<",
	"&gt;", ">",
)

func unescapeBasic(s string) string {
	return basicEntities.Replace(s)
}
