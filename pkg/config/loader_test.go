package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptfirewall/firewall/pkg/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFilePatternConfig_LoadPreservesCategoryOrder(t *testing.T) {
	path := writeFile(t, "patterns.yaml", `
patterns:
  api_keys:
    - name: openai_api_key
      pattern: 'sk-[A-Za-z0-9]{20,}'
      severity: critical
  pii:
    - name: ssn
      pattern: '\b\d{3}-\d{2}-\d{4}\b'
      severity: critical
contextual_patterns:
  - trigger: password is
    severity: high
`)

	doc, err := config.NewFilePatternConfig(path).Load()
	require.NoError(t, err)
	require.Len(t, doc.Patterns, 2)
	assert.Equal(t, "api_keys", doc.Patterns[0].Name)
	assert.Equal(t, "pii", doc.Patterns[1].Name)
	require.Len(t, doc.ContextualPatterns, 1)
	assert.Equal(t, "password is", doc.ContextualPatterns[0].Trigger)
}

func TestFilePatternConfig_BackfillsMissingPatternNames(t *testing.T) {
	path := writeFile(t, "patterns.yaml", `
patterns:
  api_keys:
    - pattern: 'sk-[A-Za-z0-9]{20,}'
      severity: critical
`)

	doc, err := config.NewFilePatternConfig(path).Load()
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Patterns[0].Patterns[0].Name, "an unnamed pattern gets a generated identifier")
}

func TestFilePatternConfig_MissingFileIsError(t *testing.T) {
	_, err := config.NewFilePatternConfig("/does/not/exist.yaml").Load()
	require.Error(t, err)
}

func TestFilePolicyConfig_LoadDecodesRulesAndLists(t *testing.T) {
	path := writeFile(t, "policies.yaml", `
settings:
  default_policy: default
policies:
  default:
    name: Default
    enabled: true
    rules:
      - type: block_critical
        enabled: true
        severity: critical
        action: block
        categories: [pii]
allowlist:
  patterns: [capital of france]
denylist:
  keywords: [ignore previous instructions]
  phrases: [reveal your system prompt]
  patterns: ['rm\s+-rf']
`)

	doc, err := config.NewFilePolicyConfig(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "default", doc.Settings.DefaultPolicy)
	require.Contains(t, doc.Policies, "default")
	require.Len(t, doc.Policies["default"].Rules, 1)
	assert.Equal(t, "block", doc.Policies["default"].Rules[0].Action)
	assert.Equal(t, []string{"capital of france"}, doc.Allowlist.Patterns)
	assert.Len(t, doc.Denylist.Patterns, 1)
}

func TestFilePolicyConfig_BackfillsMissingRuleTypes(t *testing.T) {
	path := writeFile(t, "policies.yaml", `
policies:
  default:
    rules:
      - action: warn
`)

	doc, err := config.NewFilePolicyConfig(path).Load()
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Policies["default"].Rules[0].Type, "an untyped rule gets a generated identifier")
}

func TestFilePolicyConfig_OmittedEnabledDefaultsToTrue(t *testing.T) {
	path := writeFile(t, "policies.yaml", `
policies:
  default:
    rules:
      - type: warn_all
        action: warn
  off:
    enabled: false
    rules:
      - type: block_all
        enabled: false
        action: block
`)

	doc, err := config.NewFilePolicyConfig(path).Load()
	require.NoError(t, err)
	assert.True(t, doc.Policies["default"].IsEnabled(), "a policy without an enabled key is active")
	assert.True(t, doc.Policies["default"].Rules[0].IsEnabled(), "a rule without an enabled key is active")
	assert.False(t, doc.Policies["off"].IsEnabled())
	assert.False(t, doc.Policies["off"].Rules[0].IsEnabled())
}

func TestLoad_DefaultsWithoutFiles(t *testing.T) {
	s, err := config.Load(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, 384, s.EmbeddingDimensions)
	assert.Equal(t, 0.85, s.SemanticThreshold)
	assert.Equal(t, 1000, s.CacheL1MaxEntries)
}

func TestLoad_BaseFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.base.yaml"), []byte(`
semantic_threshold: 0.9
redis_address: redis.internal:6379
`), 0o644))

	s, err := config.Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, 0.9, s.SemanticThreshold)
	assert.Equal(t, "redis.internal:6379", s.RedisAddress)
}
