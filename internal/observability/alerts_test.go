package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

var metricName = regexp.MustCompile(`portal_[a-z_]+`)

func TestPortalAlertRules(t *testing.T) {
	root := filepath.Join("..", "..")
	data, err := os.ReadFile(filepath.Join(root, "deploy", "prometheus", "alerts", "portal.yml"))
	require.NoError(t, err)

	var spec alertSpec
	require.NoError(t, yaml.Unmarshal(data, &spec))
	require.Len(t, spec.Groups, 1)
	group := spec.Groups[0]
	assert.Equal(t, "portal", group.Name)

	expected := map[string]string{
		"BackendErrorRate":             "critical",
		"HighLatency":                  "warning",
		"ForcedLogoutSpike":            "warning",
		"PaymentsAwaitingVerification": "warning",
	}
	require.Len(t, group.Rules, len(expected))

	runbook, err := os.ReadFile(filepath.Join(root, "docs", "runbook.md"))
	require.NoError(t, err)

	exposed := exposedMetrics(t)
	for _, rule := range group.Rules {
		severity, ok := expected[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		assert.Equal(t, severity, rule.Labels["severity"], rule.Alert)
		assert.NotEmpty(t, rule.Expr, rule.Alert)
		assert.NotEmpty(t, rule.For, rule.Alert)
		assert.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		assert.NotEmpty(t, rule.Annotations["description"], rule.Alert)

		link := rule.Annotations["runbook"]
		require.True(t, strings.HasPrefix(link, "docs/runbook.md#"), rule.Alert)
		anchor := strings.TrimPrefix(link, "docs/runbook.md#")
		assert.Contains(t, string(runbook), "## "+anchor, "runbook section for %s", rule.Alert)

		for _, name := range metricName.FindAllString(rule.Expr, -1) {
			name = strings.TrimSuffix(name, "_bucket")
			assert.Contains(t, exposed, name, "%s references an unknown metric", rule.Alert)
		}
	}
}

// exposedMetrics lists every metric family name the registry knows about.
func exposedMetrics(t *testing.T) []string {
	t.Helper()
	m := NewMetrics()
	m.requestDuration.WithLabelValues("/").Observe(0)
	m.ObserveBackendCall("GET /auth/me", 200, 0)
	m.ObservePayment("paid")
	m.ObserveSessionEnd(true)
	families, err := m.registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	return names
}
