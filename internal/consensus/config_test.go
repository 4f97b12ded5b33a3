package consensus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `modes:
  interactive:
    committee:
      - {role: analyste, model: "mistral:7b", system: "Analyse.", max_tokens: 256, temperature: 0.3, timeout_s: 15}
      - {role: createur, model: "phi3:mini", system: "Propose.", max_tokens: 256, temperature: 0.8, timeout_s: 15}
    soft_deadline_s: 5
    grace_s: 0
    hard_deadline_s: 10
    require_heavy: false
  precision:
    committee:
      - {role: chef, model: "qwen2.5:32b", system: "Tranche.", max_tokens: 512, temperature: 0.2, timeout_s: 45}
    soft_deadline_s: 8
    grace_s: 4
    hard_deadline_s: 20
    require_heavy: true
conductor: {model: "mistral:7b", system: "Synthétise.", max_tokens: 256, temperature: 0.1}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "committee.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	f, err := LoadFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	mc, err := f.Mode("precision")
	require.NoError(t, err)
	assert.True(t, mc.RequireHeavy)
	assert.Equal(t, 8*time.Second, mc.Soft())
	assert.Equal(t, 4*time.Second, mc.Grace())
	assert.Equal(t, 20*time.Second, mc.Hard())
	assert.Equal(t, 45*time.Second, mc.Committee[0].Timeout())

	assert.Equal(t, "mistral:7b", f.Conductor.Model)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestModeUnknown(t *testing.T) {
	f, err := LoadFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	_, err = f.Mode("turbo")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestLoadFileRejectsUnknownFields(t *testing.T) {
	bad := `modes:
  interactive:
    committee:
      - {role: a, model: m}
    soft_deadline_s: 5
    grace_s: 0
    hard_deadlne_s: 10
conductor: {model: m}
`
	_, err := LoadFile(writeConfig(t, bad))
	assert.Error(t, err, "typo'd deadline key must be rejected, not defaulted")
}

func TestLoadFileDeadlineInvariant(t *testing.T) {
	bad := `modes:
  interactive:
    committee:
      - {role: a, model: m}
    soft_deadline_s: 8
    grace_s: 5
    hard_deadline_s: 10
conductor: {model: m}
`
	_, err := LoadFile(writeConfig(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds hard_deadline_s")
}

func TestLoadFileEmptyCommittee(t *testing.T) {
	bad := `modes:
  interactive:
    committee: []
    soft_deadline_s: 5
    hard_deadline_s: 10
conductor: {model: m}
`
	_, err := LoadFile(writeConfig(t, bad))
	assert.Error(t, err)
}

func TestModelIDsUnique(t *testing.T) {
	mc := ModeConfig{Committee: []Member{
		{Role: "a", Model: "mistral:7b"},
		{Role: "b", Model: "mistral:7b"},
		{Role: "c", Model: "phi3:mini"},
	}}
	assert.Equal(t, []string{"mistral:7b", "phi3:mini"}, mc.ModelIDs())
}
