package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Site.ID)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout())
	assert.Equal(t, 256, cfg.Feed.CacheSize)
	assert.Equal(t, []string{"client", "admin"}, cfg.Policies.Remediation.VerifyRoles)

	tpl, ok := cfg.Checklist("concrete.pour")
	require.True(t, ok)
	assert.Len(t, tpl, 4)
	assert.Equal(t, "formwork", tpl[0].ID)
	_, ok = cfg.Checklist("nope")
	assert.False(t, ok)

	assert.Equal(t, cfg, Default())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]struct {
		from, to string
		want     string
	}{
		"missing site id": {"id: default", "id: \"\"", "site.id"},
		"unknown role":    {"    contractor:\n", "    foreman:\n", "unknown role foreman"},
		"duplicate cp":    {"id: embeds", "id: rebar", "repeats checkpoint rebar"},
		"bad verify role": {"verify_roles: [client, admin]", "verify_roles: [client, boss]", "verify_roles"},
		"negative cache":  {"cache_size: 256", "cache_size: -1", "cache_size"},
		"empty checklist": {"checkpoints:\n      - id: substrate", "checkpoints: []\n    unused:\n      - id: substrate", "roofing has no checkpoints"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			raw := strings.Replace(GenerateDefault(), tc.from, tc.to, 1)
			require.NotEqual(t, GenerateDefault(), raw)
			_, err := FromYAML([]byte(raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.ErrorContains(t, err, "sl config init")

	custom := strings.Replace(GenerateDefault(), "name: Default site", "name: Tower A", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "siteline.yml"), []byte(custom), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "Tower A", cfg.Site.Name)
	assert.Equal(t, filepath.Join(dir, "siteline.yml"), Path(dir))
}

func TestInvalidYAML(t *testing.T) {
	_, err := FromYAML([]byte("site: [unclosed"))
	assert.ErrorContains(t, err, "invalid config yaml")
}
