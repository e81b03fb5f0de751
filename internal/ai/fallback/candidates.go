package fallback

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoCandidates is returned when a chain has no model identifiers.
var ErrNoCandidates = errors.New("fallback: no candidates configured")

// Candidates is an ordered list of model identifiers, primary first.
// No identifier appears twice.
type Candidates []string

// NewCandidates validates and returns an ordered candidate list.
func NewCandidates(models ...string) (Candidates, error) {
	if len(models) == 0 {
		return nil, ErrNoCandidates
	}

	seen := make(map[string]struct{}, len(models))
	out := make(Candidates, 0, len(models))
	for i, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			return nil, fmt.Errorf("fallback: candidate %d is empty", i)
		}
		if _, dup := seen[m]; dup {
			return nil, fmt.Errorf("fallback: candidate %q listed twice", m)
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

// ParseCandidates parses a comma-separated list such as "model-a, model-b".
func ParseCandidates(list string) (Candidates, error) {
	if strings.TrimSpace(list) == "" {
		return nil, ErrNoCandidates
	}
	return NewCandidates(strings.Split(list, ",")...)
}

// Primary returns the first candidate.
func (c Candidates) Primary() string {
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

// Key identifies the chain for caching.
func (c Candidates) Key() string {
	return strings.Join(c, ",")
}

// Chains holds one candidate list per purpose.
type Chains struct {
	Estimate Candidates
	Image    Candidates
	Validate Candidates
}

type chainsFile struct {
	Estimate []string `yaml:"estimate"`
	Image    []string `yaml:"image"`
	Validate []string `yaml:"validate"`
}

// LoadChains reads candidate chains from a YAML file:
//
//	estimate: [claude-sonnet-4-5, claude-haiku-4-5]
//	image: [gemini-2.5-flash-image]
//	validate: [claude-haiku-4-5]
//
// The validate chain defaults to the estimate chain when omitted.
func LoadChains(path string) (Chains, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Chains{}, fmt.Errorf("fallback: read chains file: %w", err)
	}
	return ParseChains(data)
}

// ParseChains decodes YAML candidate chains.
func ParseChains(data []byte) (Chains, error) {
	var f chainsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Chains{}, fmt.Errorf("fallback: parse chains: %w", err)
	}

	var (
		c   Chains
		err error
	)
	if c.Estimate, err = NewCandidates(f.Estimate...); err != nil {
		return Chains{}, fmt.Errorf("estimate chain: %w", err)
	}
	if len(f.Image) > 0 {
		if c.Image, err = NewCandidates(f.Image...); err != nil {
			return Chains{}, fmt.Errorf("image chain: %w", err)
		}
	}
	c.Validate = c.Estimate
	if len(f.Validate) > 0 {
		if c.Validate, err = NewCandidates(f.Validate...); err != nil {
			return Chains{}, fmt.Errorf("validate chain: %w", err)
		}
	}
	return c, nil
}
