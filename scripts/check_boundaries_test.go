package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const service = "adpilot/contexts/ads/engine"

func TestCheckImport(t *testing.T) {
	cases := []struct {
		layer  string
		path   string
		broken bool
	}{
		{"domain", "time", false},
		{"domain", "github.com/shopspring/decimal", false},
		{"domain", service + "/domain/entities", false},
		{"domain", service + "/ports", true},
		{"domain", service + "/adapters/memory", true},
		{"ports", "adpilot/contracts/gen/events/v1", false},
		{"application", "golang.org/x/sync/errgroup", false},
		{"application", "adpilot/internal/platform/db", true},
		{"application", "gorm.io/gorm", true},
		{"application", "adpilot/contexts/other/svc/domain", true},
		{"transport", service + "/application/commands", false},
		{"adapters", "gorm.io/gorm", false},
	}
	for _, tc := range cases {
		rule := checkImport(tc.layer, tc.path, service)
		assert.Equal(t, tc.broken, rule != "", "%s importing %s: %q", tc.layer, tc.path, rule)
	}
}

func TestCollectViolationsSkipsTests(t *testing.T) {
	root := filepath.Join(t.TempDir(), "contexts")
	dir := filepath.Join(root, "ads", "engine", "domain")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("rule.go", "package domain\n\nimport (\n\t\"time\"\n\t\"adpilot/contexts/ads/engine/adapters/memory\"\n)\n")
	write("rule_test.go", "package domain\n\nimport \"adpilot/contexts/ads/engine/adapters/memory\"\n")

	violations := collectViolations(root)
	require.Len(t, violations, 1)
	assert.Equal(t, "contexts/ads/engine/domain/rule.go", violations[0].File)
	assert.Equal(t, 5, violations[0].Line)
	assert.Equal(t, "domain must not import adapters", violations[0].Rule)
}
