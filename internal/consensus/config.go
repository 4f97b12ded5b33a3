package consensus

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownMode is returned when the requested mode has no entry in the
// committee file.
var ErrUnknownMode = errors.New("consensus: unknown mode")

// Member is one committee role. Multiple roles may share a model.
type Member struct {
	Role          string  `yaml:"role"`
	Model         string  `yaml:"model"`
	System        string  `yaml:"system"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
	TopP          float64 `yaml:"top_p"`
	RepeatPenalty float64 `yaml:"repeat_penalty"`
	TimeoutS      float64 `yaml:"timeout_s"`
}

// Timeout returns the member's per-call budget, defaulting to 30s.
func (m Member) Timeout() time.Duration {
	if m.TimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.TimeoutS * float64(time.Second))
}

// ModeConfig is one voting mode: its committee and deadline policy.
type ModeConfig struct {
	Committee     []Member `yaml:"committee"`
	SoftDeadlineS float64  `yaml:"soft_deadline_s"`
	GraceS        float64  `yaml:"grace_s"`
	HardDeadlineS float64  `yaml:"hard_deadline_s"`
	RequireHeavy  bool     `yaml:"require_heavy"`
}

// Soft returns the soft deadline as a duration.
func (m ModeConfig) Soft() time.Duration { return secs(m.SoftDeadlineS) }

// Grace returns the grace window as a duration.
func (m ModeConfig) Grace() time.Duration { return secs(m.GraceS) }

// Hard returns the hard deadline as a duration.
func (m ModeConfig) Hard() time.Duration { return secs(m.HardDeadlineS) }

func secs(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// File is the committee configuration document.
type File struct {
	Modes     map[string]ModeConfig `yaml:"modes"`
	Conductor Member                `yaml:"conductor"`
}

// LoadFile parses and validates the committee file. Unknown YAML fields are
// rejected: a typo in a deadline key must not silently fall back to a
// default.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("consensus: read config %s: %w", path, err)
	}

	var f File
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("consensus: parse config %s: %w", path, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("consensus: invalid config %s: %w", path, err)
	}
	return &f, nil
}

// Mode returns the configuration for mode, or ErrUnknownMode.
func (f *File) Mode(name string) (ModeConfig, error) {
	mc, ok := f.Modes[name]
	if !ok {
		return ModeConfig{}, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
	return mc, nil
}

// ModelIDs returns the unique model ids across the mode's committee.
func (m ModeConfig) ModelIDs() []string {
	seen := make(map[string]struct{}, len(m.Committee))
	var ids []string
	for _, member := range m.Committee {
		if _, ok := seen[member.Model]; ok {
			continue
		}
		seen[member.Model] = struct{}{}
		ids = append(ids, member.Model)
	}
	return ids
}

func (f *File) validate() error {
	if len(f.Modes) == 0 {
		return errors.New("no modes defined")
	}
	if f.Conductor.Model == "" {
		return errors.New("conductor.model is required")
	}
	for name, mc := range f.Modes {
		if len(mc.Committee) == 0 {
			return fmt.Errorf("mode %q: empty committee", name)
		}
		for i, member := range mc.Committee {
			if member.Role == "" {
				return fmt.Errorf("mode %q: committee[%d]: role is required", name, i)
			}
			if member.Model == "" {
				return fmt.Errorf("mode %q: committee[%d]: model is required", name, i)
			}
		}
		// Deadline invariant: 0 < soft <= soft+grace <= hard.
		if mc.SoftDeadlineS <= 0 {
			return fmt.Errorf("mode %q: soft_deadline_s must be positive", name)
		}
		if mc.GraceS < 0 {
			return fmt.Errorf("mode %q: grace_s must not be negative", name)
		}
		if mc.SoftDeadlineS+mc.GraceS > mc.HardDeadlineS {
			return fmt.Errorf("mode %q: soft_deadline_s + grace_s (%g) exceeds hard_deadline_s (%g)",
				name, mc.SoftDeadlineS+mc.GraceS, mc.HardDeadlineS)
		}
	}
	return nil
}
