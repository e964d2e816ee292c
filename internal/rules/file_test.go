package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrouter/internal/types"
)

const yamlRules = `
rules:
  - name: critical alerts
    enabled: true
    priority: 10
    conditions:
      source: [grafana, prometheus]
      priority: high
      timeWindow:
        start: "22:00"
        end: "06:00"
        timezone: Europe/Berlin
    channels:
      - type: slack
        name: oncall
        config:
          webhookUrl: https://hooks.slack.com/services/x
        retryPolicy:
          maxAttempts: 5
          backoffMultiplier: 2
          initialDelay: 500
          maxDelay: 10000
  - id: fixed-id
    name: github
    enabled: false
    conditions:
      source: github
    channels:
      - type: discord
        name: dev
        config:
          webhookUrl: https://discord.com/api/webhooks/1/x
    transform:
      template: "{{title}}"
`

func TestParseRules_YAML(t *testing.T) {
	rules, err := ParseRules("rules.yaml", []byte(yamlRules))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	r := rules[0]
	assert.Equal(t, "critical alerts", r.Name)
	assert.Equal(t, 10, r.Priority)
	assert.Equal(t, types.SourceMatcher{"grafana", "prometheus"}, r.Conditions.Source)
	assert.Equal(t, types.PriorityLevel("high"), r.Conditions.Priority)
	require.NotNil(t, r.Conditions.TimeWindow)
	assert.Equal(t, "Europe/Berlin", r.Conditions.TimeWindow.Timezone)
	require.NotNil(t, r.Channels[0].RetryPolicy)
	assert.Equal(t, 5, r.Channels[0].RetryPolicy.MaxAttempts)
	assert.Equal(t, "https://hooks.slack.com/services/x", r.Channels[0].Config["webhookUrl"])

	assert.Equal(t, "fixed-id", rules[1].ID)
	assert.Equal(t, types.SourceMatcher{"github"}, rules[1].Conditions.Source, "a scalar source becomes a list")
	require.NotNil(t, rules[1].Transform)
	assert.Equal(t, "{{title}}", rules[1].Transform.Template)
}

func TestParseRules_DeterministicIDs(t *testing.T) {
	first, err := ParseRules("rules.yaml", []byte(yamlRules))
	require.NoError(t, err)
	second, err := ParseRules("rules.yml", []byte(yamlRules))
	require.NoError(t, err)
	assert.NotEmpty(t, first[0].ID)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestParseRules_JSONList(t *testing.T) {
	doc := `[{"name":"all","enabled":true,"channels":[{"type":"webhook","name":"sink","config":{"url":"https://example.com/hook"}}]}]`
	rules, err := ParseRules("rules.json", []byte(doc))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, types.ChannelWebhook, rules[0].Channels[0].Type)
}

func TestParseRules_EnabledDefaultsOn(t *testing.T) {
	doc := "- name: implicit\n  channels:\n    - {type: webhook, name: a, config: {url: \"https://example.com/a\"}}\n" +
		"- name: off\n  enabled: false\n  channels:\n    - {type: webhook, name: b, config: {url: \"https://example.com/b\"}}\n"
	rules, err := ParseRules("rules.yaml", []byte(doc))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.True(t, rules[0].Enabled)
	assert.False(t, rules[1].Enabled)
}

func TestParseRules_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		doc  string
	}{
		{"bad yaml", "r.yaml", "rules: [\n  - name: x\n    channels: {"},
		{"unknown top-level key", "r.json", `{"rulez": []}`},
		{"invalid rule", "r.json", `[{"name":"","channels":[]}]`},
		{"null entry", "r.json", `[null]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules(tt.path, []byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseRules_Empty(t *testing.T) {
	rules, err := ParseRules("r.yaml", []byte("   \n"))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestFileStore_Reload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, path, yamlRules)

	s, err := NewFileStore(path, nil, nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	assert.Equal(t, 2, s.Len())

	changed, err := s.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "unchanged content is skipped")

	writeFile(t, path, "rules:\n  - name: broken\n    channels: []\n")
	_, err = s.Reload(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, s.Len(), "invalid file keeps the previous rules")

	writeFile(t, path, `rules:
  - name: only
    enabled: true
    channels:
      - type: slack
        name: eng
        config:
          webhookUrl: https://hooks.slack.com/x
`)
	changed, err = s.Reload(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, s.Len())
}

func TestFileStore_ReadOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, path, yamlRules)
	s, err := NewFileStore(path, nil, nopLogger{})
	require.NoError(t, err)

	assert.Equal(t, types.ErrCodeValidationInvalidRule, errCode(t, s.Create(ctx, newRule("x"))))
	assert.Equal(t, types.ErrCodeValidationInvalidRule, errCode(t, s.Update(ctx, newRule("x"))))
	assert.Equal(t, types.ErrCodeValidationInvalidRule, errCode(t, s.Delete(ctx, "fixed-id")))

	r, err := s.GetByID(ctx, "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, "github", r.Name)
}

func TestNewFileStore_MissingFile(t *testing.T) {
	_, err := NewFileStore(filepath.Join(t.TempDir(), "nope.yaml"), nil, nopLogger{})
	assert.Error(t, err)
}

func TestFileStore_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, path, yamlRules)
	s, err := NewFileStore(path, nil, nopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, `[{"name":"solo","enabled":true,"channels":[{"type":"slack","name":"eng","config":{"webhookUrl":"https://hooks.slack.com/x"}}]}]`)
	assert.Eventually(t, func() bool { return s.Len() == 1 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
