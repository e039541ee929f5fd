package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/systmms/envlock/internal/prompt"
)

// ScriptedPrompter answers prompts from a queue of canned answers, in order.
// Select answers are matched against option values, then labels. An empty
// queue fails the prompt, which doubles as "no prompt expected".
type ScriptedPrompter struct {
	mu      sync.Mutex
	answers []string

	// Asked records every prompt message in order.
	Asked []string
	// Offered records the options shown for each Select.
	Offered [][]prompt.Option
}

// NewScriptedPrompter queues answers. Confirm accepts "y"/"n".
func NewScriptedPrompter(answers ...string) *ScriptedPrompter {
	return &ScriptedPrompter{answers: answers}
}

func (p *ScriptedPrompter) next(message string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Asked = append(p.Asked, message)
	if len(p.answers) == 0 {
		return "", fmt.Errorf("unexpected prompt %q", message)
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

func (p *ScriptedPrompter) Select(_ context.Context, message string, options []prompt.Option) (prompt.Option, error) {
	p.mu.Lock()
	p.Offered = append(p.Offered, options)
	p.mu.Unlock()

	answer, err := p.next(message)
	if err != nil {
		return prompt.Option{}, err
	}
	for _, opt := range options {
		if opt.Value == answer || opt.Label == answer {
			return opt, nil
		}
	}
	return prompt.Option{}, fmt.Errorf("scripted answer %q is not among the options for %q", answer, message)
}

func (p *ScriptedPrompter) Input(_ context.Context, message, defaultValue string) (string, error) {
	answer, err := p.next(message)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return defaultValue, nil
	}
	return answer, nil
}

func (p *ScriptedPrompter) Secret(_ context.Context, message string) (string, error) {
	return p.next(message)
}

func (p *ScriptedPrompter) Confirm(_ context.Context, message string, defaultYes bool) (bool, error) {
	answer, err := p.next(message)
	if err != nil {
		return false, err
	}
	switch answer {
	case "y", "yes":
		return true, nil
	case "":
		return defaultYes, nil
	default:
		return false, nil
	}
}

// Remaining reports how many answers were not consumed.
func (p *ScriptedPrompter) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.answers)
}

var _ prompt.Prompter = (*ScriptedPrompter)(nil)
