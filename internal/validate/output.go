package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinAnswerLength is the minimum trimmed length for a usable answer.
const MinAnswerLength = 5

// ErrInvalidOutput marks a generated answer that failed quality checks.
// The orchestrator treats it as a transient failure and re-generates.
var ErrInvalidOutput = errors.New("invalid output")

// hallucinationPatterns catches the two failure modes of generative
// answering: unfilled template placeholders and refusal/deflection
// boilerplate. Matching is case-insensitive.
var hallucinationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[insert[^\]]*\]`),
	regexp.MustCompile(`(?i)\[[^\]]*date[^\]]*\]`),
	regexp.MustCompile(`(?i)\[[^\]]*year[^\]]*\]`),
	regexp.MustCompile(`(?i)\[[^\]]*number[^\]]*\]`),
	regexp.MustCompile(`\[\d{4}\]`),
	regexp.MustCompile(`(?i)according to my knowledge`),
	regexp.MustCompile(`(?i)based on my knowledge`),
	regexp.MustCompile(`(?i)my training data`),
	regexp.MustCompile(`(?i)as an AI (model|assistant|language model)`),
	regexp.MustCompile(`(?i)I am (an AI|a language model)`),
	regexp.MustCompile(`(?i)I apologize, but I`),
}

// Answer validates a generated answer and returns it trimmed.
func Answer(answer string) (string, error) {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty response from model", ErrInvalidOutput)
	}
	if utf8.RuneCountInString(trimmed) < MinAnswerLength {
		return "", fmt.Errorf("%w: response too short to be valid", ErrInvalidOutput)
	}
	for _, p := range hallucinationPatterns {
		if p.MatchString(trimmed) {
			return "", fmt.Errorf("%w: response contains placeholder or boilerplate (%s)", ErrInvalidOutput, p.String())
		}
	}
	return trimmed, nil
}
