package llm

import (
	"fmt"

	"github.com/BaSui01/taskflow/types"
)

// SelectionPolicy 按能力选择 provider 的固定优先级表。
// 未显式指定 provider 时，Router 取第一个已注册的候选。
type SelectionPolicy struct {
	Preferences map[Capability][]string `yaml:"preferences" json:"preferences"`
	Fallback    []string                `yaml:"fallback" json:"fallback"`
}

// DefaultSelectionPolicy returns the built-in capability preferences.
func DefaultSelectionPolicy() SelectionPolicy {
	return SelectionPolicy{
		Preferences: map[Capability][]string{
			CapabilityCode:     {"openai", "anthropic"},
			CapabilityImage:    {"stability", "openai"},
			CapabilityVision:   {"google", "openai"},
			CapabilityAnalysis: {"anthropic", "openai"},
		},
		Fallback: []string{"anthropic", "openai", "google"},
	}
}

// Candidates returns the ordered candidate list for c.
func (p SelectionPolicy) Candidates(c Capability) []string {
	prefs := p.Preferences[c]
	out := make([]string, 0, len(prefs)+len(p.Fallback))
	seen := make(map[string]struct{}, cap(out))
	for _, list := range [][]string{prefs, p.Fallback} {
		for _, name := range list {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Select returns the first candidate for c accepted by available.
func (p SelectionPolicy) Select(c Capability, available func(name string) bool) (string, error) {
	for _, name := range p.Candidates(c) {
		if available(name) {
			return name, nil
		}
	}
	return "", types.NewError(types.ErrProviderUnavailable,
		fmt.Sprintf("no registered provider serves capability %q", c)).WithHTTPStatus(503)
}
