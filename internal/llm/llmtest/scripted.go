// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ShayCichocki/taskloom/internal/llm"
)

type rule struct {
	match   string
	replies []string
	err     error
	next    int
}

// Scripted answers requests from rules keyed on a substring of the system
// prompt. Each rule returns its replies in order and then keeps repeating
// the last one. Rules are checked in registration order.
type Scripted struct {
	mu    sync.Mutex
	rules []*rule
	calls []llm.Request
}

// New creates an empty script.
func New() *Scripted {
	return &Scripted{}
}

// On answers requests whose system prompt contains match.
func (s *Scripted) On(match string, replies ...string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &rule{match: match, replies: replies})
	return s
}

// OnError fails requests whose system prompt contains match.
func (s *Scripted) OnError(match string, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &rule{match: match, err: err})
	return s
}

// Complete implements llm.Client.
func (s *Scripted) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	for _, r := range s.rules {
		if !strings.Contains(req.System, r.match) {
			continue
		}
		if r.err != nil {
			return nil, r.err
		}
		if len(r.replies) == 0 {
			return &llm.Response{Model: "scripted"}, nil
		}
		idx := r.next
		if idx >= len(r.replies) {
			idx = len(r.replies) - 1
		} else {
			r.next++
		}
		return &llm.Response{Content: r.replies[idx], Model: "scripted"}, nil
	}
	return nil, llm.NewFatalError(fmt.Errorf("llmtest: no rule for system prompt %q", truncate(req.System, 80)))
}

// Calls returns every request received so far.
func (s *Scripted) Calls() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many requests had a system prompt containing match.
func (s *Scripted) CallCount(match string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.Contains(c.System, match) {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
