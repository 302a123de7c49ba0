package rag

import (
	"fmt"
	"strings"
)

// PromptTemplate renders the retrieved context and the validated question
// into the instruction handed to the LLM. The template variant is fixed
// per deployment; both variants place the context before the question and
// embed inputs verbatim (sanitization happens upstream).
type PromptTemplate interface {
	Render(question, context string) string
}

// PlainTemplate is the minimal assistant framing.
type PlainTemplate struct{}

func (PlainTemplate) Render(question, context string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant. Use the context below to answer the question.\n\n")
	sb.WriteString("Context:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

// FewShotTemplate prepends two worked examples to bias answer style and
// discourage hallucinated dates.
type FewShotTemplate struct{}

const fewShotPreamble = `Use the context below to answer the question.

Context: In May 2023, Promtior was founded facing this context.
Question: When was Promtior founded?
Answer: In May 2023

Context: Promtior offers AI consulting services.
Question: What does Promtior do?
Answer: Promtior offers AI consulting services

`

func (FewShotTemplate) Render(question, context string) string {
	var sb strings.Builder
	sb.WriteString(fewShotPreamble)
	sb.WriteString("Context: ")
	sb.WriteString(context)
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\nAnswer:")
	return sb.String()
}

// TemplateByName resolves the configured template variant.
func TemplateByName(name string) (PromptTemplate, error) {
	switch name {
	case "", "fewshot":
		return FewShotTemplate{}, nil
	case "plain":
		return PlainTemplate{}, nil
	default:
		return nil, fmt.Errorf("unknown prompt template: %s", name)
	}
}
