package rag

import (
	"strings"
	"testing"
)

func TestTemplates_ContextBeforeQuestion(t *testing.T) {
	for name, tmpl := range map[string]PromptTemplate{"plain": PlainTemplate{}, "fewshot": FewShotTemplate{}} {
		prompt := tmpl.Render("When was Promtior founded?", "Promtior was founded in May 2023.")
		ctxIdx := strings.LastIndex(prompt, "Promtior was founded in May 2023.")
		qIdx := strings.LastIndex(prompt, "When was Promtior founded?")
		if ctxIdx < 0 || qIdx < 0 {
			t.Fatalf("%s: prompt missing inputs: %q", name, prompt)
		}
		if ctxIdx > qIdx {
			t.Fatalf("%s: context must come before question", name)
		}
		if !strings.HasSuffix(prompt, "Answer:") {
			t.Fatalf("%s: prompt must end with the answer cue", name)
		}
	}
}

func TestFewShotTemplate_IncludesWorkedExamples(t *testing.T) {
	prompt := FewShotTemplate{}.Render("q", "c")
	if strings.Count(prompt, "Question:") != 3 {
		t.Fatalf("expected two worked examples plus the live question, got %q", prompt)
	}
}

func TestTemplateByName(t *testing.T) {
	if _, err := TemplateByName("plain"); err != nil {
		t.Fatalf("plain: %v", err)
	}
	if _, err := TemplateByName("fewshot"); err != nil {
		t.Fatalf("fewshot: %v", err)
	}
	if tmpl, err := TemplateByName(""); err != nil {
		t.Fatalf("default: %v", err)
	} else if _, ok := tmpl.(FewShotTemplate); !ok {
		t.Fatalf("default should be the few-shot variant")
	}
	if _, err := TemplateByName("haiku"); err == nil {
		t.Fatalf("expected error for unknown template")
	}
}

func TestAssembleContext(t *testing.T) {
	docs := []Document{{Content: "first"}, {Content: "second"}, {Content: "third"}}
	got := AssembleContext(docs)
	if got != "first\n\nsecond\n\nthird" {
		t.Fatalf("unexpected context: %q", got)
	}
	if AssembleContext(nil) != "" {
		t.Fatalf("empty document list must yield empty context")
	}
}
