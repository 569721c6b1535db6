package worker

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ShayCichocki/taskloom/internal/llm"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// Verdict is the validator's judgement of one attempt.
type Verdict struct {
	Met      bool   `json:"met"`
	Feedback string `json:"feedback"`
}

// Validator judges whether an attempt meets the acceptance criteria.
type Validator interface {
	Validate(ctx context.Context, w *models.Worker, history []llm.Message) (Verdict, error)
}

// Failure is one failed execution.
type Failure struct {
	Attempt int
	Code    string
	Error   string
}

// RepeatedFailureJudge decides whether consecutive failures repeat without
// progress, which ends the loop early.
type RepeatedFailureJudge interface {
	Repeated(ctx context.Context, failures []Failure) (bool, string, error)
}

// LLMValidator asks the model to judge the acceptance criteria.
type LLMValidator struct {
	client llm.Client
}

// NewLLMValidator creates a model-backed validator.
func NewLLMValidator(client llm.Client) *LLMValidator {
	return &LLMValidator{client: client}
}

// Validate implements Validator.
func (v *LLMValidator) Validate(ctx context.Context, w *models.Worker, history []llm.Message) (Verdict, error) {
	msgs := append(append([]llm.Message(nil), history...), llm.UserMessage(fmt.Sprintf(
		"Task: %s\nAcceptance criteria: %s\n\nAre the acceptance criteria met?", w.TaskDescription, w.AcceptanceCriteria)))

	var verdict Verdict
	if err := llm.RequestJSON(ctx, v.client, llm.Request{System: validationPrompt, Messages: msgs}, &verdict); err != nil {
		return Verdict{}, fmt.Errorf("validate: %w", err)
	}
	return verdict, nil
}

// LLMJudge asks the model whether failures repeat.
type LLMJudge struct {
	client llm.Client
}

// NewLLMJudge creates a model-backed repeated failure judge.
func NewLLMJudge(client llm.Client) *LLMJudge {
	return &LLMJudge{client: client}
}

// Repeated implements RepeatedFailureJudge.
func (j *LLMJudge) Repeated(ctx context.Context, failures []Failure) (bool, string, error) {
	var b strings.Builder
	for _, f := range failures {
		fmt.Fprintf(&b, "Attempt %d\nCode:\n%s\nError:\n%s\n\n", f.Attempt, truncate(f.Code, 2000), truncate(f.Error, 1000))
	}

	var resp struct {
		Repeated bool   `json:"repeated"`
		Reason   string `json:"reason"`
	}
	err := llm.RequestJSON(ctx, j.client, llm.Request{
		System:   repeatedFailurePrompt,
		Messages: []llm.Message{llm.UserMessage(b.String())},
	}, &resp)
	if err != nil {
		return false, "", fmt.Errorf("judge repeated failure: %w", err)
	}
	return resp.Repeated, resp.Reason, nil
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
