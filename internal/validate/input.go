// Package validate contains the input and output quality gates for the
// question answering pipeline. Input validation runs before anything is
// sent to the retriever or the LLM; output validation runs on every
// generated answer before it is surfaced.
package validate

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MinQuestionLength and MaxQuestionLength bound the question in runes.
	MinQuestionLength = 3
	MaxQuestionLength = 2000
)

// ErrInvalidInput marks a question that failed validation. It is never
// retried and maps to a client error at the HTTP boundary.
var ErrInvalidInput = errors.New("invalid input")

// forbiddenPatterns covers script-injection and code-execution vectors.
// They are checked against the raw (unescaped) question so that HTML
// entities cannot be used to slip past them.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)import\s+`),
	regexp.MustCompile(`(?i)exec\s*\(`),
	regexp.MustCompile(`(?i)eval\s*\(`),
}

// Question validates and sanitizes a user question. On success it returns
// the trimmed, HTML-escaped question; escaping happens only after the
// pattern checks.
func Question(question string) (string, error) {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return "", fmt.Errorf("%w: question cannot be empty", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(trimmed); n < MinQuestionLength {
		return "", fmt.Errorf("%w: question too short (min %d chars)", ErrInvalidInput, MinQuestionLength)
	} else if n > MaxQuestionLength {
		return "", fmt.Errorf("%w: question too long (max %d chars)", ErrInvalidInput, MaxQuestionLength)
	}
	for _, p := range forbiddenPatterns {
		if p.MatchString(trimmed) {
			return "", fmt.Errorf("%w: question contains forbidden patterns", ErrInvalidInput)
		}
	}
	return html.EscapeString(trimmed), nil
}
