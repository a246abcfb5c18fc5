package grader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pavelanni/gradeflow/internal/feedback"
	"github.com/pavelanni/gradeflow/internal/llm"
	"github.com/pavelanni/gradeflow/internal/llm/prompts"
	"github.com/pavelanni/gradeflow/internal/model"
)

var parseFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gradeflow",
	Subsystem: "grader",
	Name:      "parse_fallbacks_total",
	Help:      "Number of LLM responses that could not be parsed and fell back to defaults",
})

// Pinger is implemented by LLM clients that support a connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Direct grades by calling the LLM from this process.
type Direct struct {
	gen     llm.Generator
	variant prompts.PromptVariant
}

// NewDirect creates a Direct generator. An empty variant selects the standard prompt.
func NewDirect(gen llm.Generator, variant prompts.PromptVariant) (*Direct, error) {
	if gen == nil {
		return nil, llm.ErrMissingAPIKey
	}
	if variant == "" {
		variant = prompts.PromptStandard
	}
	if !prompts.IsValidVariant(string(variant)) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	return &Direct{gen: gen, variant: variant}, nil
}

// Grade builds the grading prompt, calls the LLM and parses its reply.
func (d *Direct) Grade(ctx context.Context, a model.Assessment, sub model.SubmissionContent) (model.Evaluation, error) {
	prompt, err := prompts.BuildGradingPrompt(d.variant, a, sub)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("build prompt: %w", err)
	}

	raw, err := d.gen.Generate(ctx, prompt)
	if err != nil {
		return model.Evaluation{}, err
	}

	res := feedback.ParseResponse(raw)
	if res.Fallback {
		parseFallbacks.Inc()
		slog.Warn("unexpected LLM response format, using fallback evaluation",
			"student", sub.StudentName, "error", res.Err, "response_chars", len(raw))
	}
	return res.Evaluation, nil
}

// CheckConnection probes the LLM.
func (d *Direct) CheckConnection(ctx context.Context) error {
	p, ok := d.gen.(Pinger)
	if !ok {
		return errors.New("LLM client does not support connection checks")
	}
	return p.Ping(ctx)
}
