// Package errclass tags per-page pipeline failures as retryable or terminal.
// Classification is a conservative substring match: anything not recognizably
// transient is terminal, so workers never burn retries (or tokens) on a page
// that can never succeed.
package errclass

import "strings"

// Kind is the classification recorded alongside each page error.
type Kind string

const (
	Retryable Kind = "retryable"
	Terminal  Kind = "terminal"
)

// retryablePatterns are matched case-insensitively against the error text.
var retryablePatterns = []string{
	"rate limit",
	"429",
	"timeout",
	"timed out",
	"connection",
	"temporary",
	"503",
	"unavailable",
}

// Classify returns Retryable when the error text matches a known transient
// pattern, otherwise Terminal. A nil error classifies as Terminal; callers
// should not be classifying successes.
func Classify(err error) Kind {
	if err == nil {
		return Terminal
	}
	return ClassifyString(err.Error())
}

// ClassifyString classifies a raw error message, e.g. one persisted in page
// metadata by an earlier run.
func ClassifyString(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return Retryable
		}
	}
	return Terminal
}
