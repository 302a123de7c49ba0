// Package rag implements the answer-generation pipeline: input
// validation, document retrieval, context assembly, prompt construction,
// LLM invocation with bounded retry, and output validation.
package rag

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/promtior/rag-assistant/internal/validate"
)

// Document is a retrieved passage with its source metadata. Documents
// are immutable once returned by the retriever and are consumed only by
// context assembly, in retrieval order.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Retriever is the retrieval capability consumed by the pipeline.
type Retriever interface {
	// RetrieveDocuments returns up to k passages relevant to the query,
	// most relevant first. An empty result is not an error.
	RetrieveDocuments(ctx context.Context, query string, k int) ([]Document, error)
}

// Generator is the generation capability consumed by the pipeline.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// Params tunes the answer loop. Zero values fall back to the defaults
// below.
type Params struct {
	TopK        int
	Temperature float64
	MaxRetries  int
	Backoff     time.Duration
}

const (
	defaultTopK       = 5
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
)

// Answerer sequences the pipeline and owns its error contract. It holds
// no mutable state; concurrent Execute calls are independent.
type Answerer struct {
	generator   Generator
	retriever   Retriever
	template    PromptTemplate
	logger      *log.Logger
	topK        int
	temperature float64
	maxRetries  int
	backoff     time.Duration
}

// NewAnswerer creates an Answerer with injected collaborators. The
// collaborators' lifecycle is owned by the caller.
func NewAnswerer(gen Generator, ret Retriever, tmpl PromptTemplate, logger *log.Logger, p Params) *Answerer {
	if tmpl == nil {
		tmpl = FewShotTemplate{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RAG] ", log.LstdFlags)
	}
	if p.TopK <= 0 {
		p.TopK = defaultTopK
	}
	if p.Temperature <= 0 {
		p.Temperature = 0.1
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultBackoff
	}
	return &Answerer{
		generator:   gen,
		retriever:   ret,
		template:    tmpl,
		logger:      logger,
		topK:        p.TopK,
		temperature: p.Temperature,
		maxRetries:  p.MaxRetries,
		backoff:     p.Backoff,
	}
}

// AssembleContext joins document contents with a blank line, preserving
// retrieval order. Zero documents yield an empty context; the pipeline
// still proceeds to generation.
func AssembleContext(docs []Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.Join(parts, "\n\n")
}

// attemptResult is the outcome of one attempt of the loop; the loop
// inspects the tag instead of catching propagated failures.
type attemptResult struct {
	answer string
	err    error
}

// Execute answers a question. Validation failures are returned
// immediately and never retried. Retrieval, generation and output
// validation failures share one retry budget with exponential backoff
// (1s, 2s between three attempts); when the budget is exhausted an
// ExhaustedError carrying the last failure is returned.
func (a *Answerer) Execute(ctx context.Context, question string) (string, error) {
	validated, err := validate.Question(question)
	if err != nil {
		return "", err
	}

	// The prompt is built on the first attempt that retrieves documents
	// and reused verbatim afterwards, so a generation failure never
	// re-runs retrieval while a retrieval failure still gets retried.
	var prompt string
	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		res := a.attempt(ctx, validated, &prompt)
		if res.err == nil {
			return res.answer, nil
		}
		lastErr = res.err
		if attempt < a.maxRetries-1 {
			wait := a.backoff * time.Duration(1<<attempt)
			a.logger.Printf("answer attempt %d/%d failed, retrying in %s: %v", attempt+1, a.maxRetries, wait, res.err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		} else {
			a.logger.Printf("answer failed after %d attempts: %v", a.maxRetries, res.err)
		}
	}
	return "", &ExhaustedError{Attempts: a.maxRetries, Err: lastErr}
}

func (a *Answerer) attempt(ctx context.Context, question string, prompt *string) attemptResult {
	if *prompt == "" {
		docs, err := a.retriever.RetrieveDocuments(ctx, question, a.topK)
		if err != nil {
			return attemptResult{err: fmt.Errorf("%w: %w", ErrRetrieval, err)}
		}
		*prompt = a.template.Render(question, AssembleContext(docs))
	}
	out, err := a.generator.Generate(ctx, *prompt, a.temperature)
	if err != nil {
		return attemptResult{err: fmt.Errorf("%w: %w", ErrGeneration, err)}
	}
	answer, err := validate.Answer(out)
	if err != nil {
		return attemptResult{err: err}
	}
	return attemptResult{answer: answer}
}
