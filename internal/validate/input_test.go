package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestQuestion_Bounds(t *testing.T) {
	if _, err := Question("ab"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for 2-char question, got %v", err)
	}
	if got, err := Question("abc"); err != nil || got != "abc" {
		t.Fatalf("expected 3-char question to pass, got %q, %v", got, err)
	}
	if _, err := Question(strings.Repeat("a", 2000)); err != nil {
		t.Fatalf("expected 2000-char question to pass, got %v", err)
	}
	if _, err := Question(strings.Repeat("a", 2001)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for 2001-char question, got %v", err)
	}
}

func TestQuestion_EmptyAndWhitespace(t *testing.T) {
	for _, q := range []string{"", "   ", "\n\t "} {
		if _, err := Question(q); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %q, got %v", q, err)
		}
	}
}

func TestQuestion_ForbiddenPatterns(t *testing.T) {
	cases := []string{
		"<script>alert(1)</script>",
		"try javascript:alert(1)",
		"<img onerror=alert(1)>",
		"import os and do things",
		"please exec (something)",
		"run eval(payload)",
		"<SCRIPT>upper case</SCRIPT>",
	}
	for _, q := range cases {
		if _, err := Question(q); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %q, got %v", q, err)
		}
	}
}

func TestQuestion_TrimsAndEscapes(t *testing.T) {
	got, err := Question("  what is 1 < 2?  ")
	if err != nil {
		t.Fatalf("Question: %v", err)
	}
	want := "what is 1 &lt; 2?"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestQuestion_RevalidationIsStable(t *testing.T) {
	// Defense in depth: a question already validated at the boundary must
	// pass the core validator again without error.
	first, err := Question("¿Qué servicios ofrece Promtior?")
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if _, err := Question(first); err != nil {
		t.Fatalf("second pass: %v", err)
	}
}
