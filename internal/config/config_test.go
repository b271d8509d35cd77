package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/config.json")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.RetryCeiling)
	require.EqualValues(t, 3, cfg.ConfirmationDepth)
	require.Equal(t, ":8090", cfg.ListenAddr)
	require.Contains(t, cfg.Platforms, "dingtalk")
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw, err := json.Marshal(map[string]any{
		"keywords":     []string{"辞退"},
		"rule_version": "v9",
		"queue_size":   64,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"辞退"}, cfg.Keywords)
	require.Equal(t, "v9", cfg.RuleVersion)
	require.Equal(t, 64, cfg.QueueSize)
	// Untouched fields keep their defaults.
	require.Equal(t, 4, cfg.Workers)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/config.json")
	t.Setenv("KEYWORDS", "加班, 薪资 ,辞退")
	t.Setenv("RETRY_CEILING", "2")
	t.Setenv("WEB3_RPC_URL", "http://localhost:8545")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"加班", "薪资", "辞退"}, cfg.Keywords)
	require.Equal(t, 2, cfg.RetryCeiling)
	require.Equal(t, "http://localhost:8545", cfg.ChainRPCURL, "WEB3_RPC_URL fallback")
}

func TestLoadRejectsBadCeiling(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/config.json")
	t.Setenv("RETRY_CEILING", "0")
	_, err := Load()
	require.Error(t, err)
}

func TestRulesetBuildsTaggedRules(t *testing.T) {
	cfg := &Config{Keywords: []string{"加班"}, RegexRules: []RegexRule{{Pattern: `工资|薪资`}}, RuleVersion: "v7"}
	rs := cfg.Ruleset()
	require.Equal(t, "v7", rs.Version)
	require.Len(t, rs.Rules, 2)
	require.Equal(t, domain.RuleLiteral, rs.Rules[0].Kind)
	require.Equal(t, domain.RuleRegex, rs.Rules[1].Kind)
}
