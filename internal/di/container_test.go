package di

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/mikey/llm-phish-scanner/internal/adapters/filter"
	"github.com/mikey/llm-phish-scanner/internal/adapters/httpapi"
	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildContainerFrontends(t *testing.T) {
	t.Setenv("PHISH_SCANNER_LLM_PROVIDER", "none")
	t.Setenv("PHISH_SCANNER_CACHE_ENABLED", "false")
	t.Setenv("PHISH_SCANNER_HTTP_ENABLED", "true")
	t.Setenv("PHISH_SCANNER_LOGGING_LEVEL", "error")

	container, err := BuildContainer()
	require.NoError(t, err)

	err = container.Invoke(func(frontends []ports.Frontend, service *core.ScanService) {
		require.Len(t, frontends, 2)
		assert.IsType(t, &filter.PostfixFilter{}, frontends[0])
		assert.IsType(t, &httpapi.Server{}, frontends[1])
		assert.Equal(t, core.AllLayers(), service.DefaultLayers())
	})
	require.NoError(t, err)
}

func TestBuildCLIContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: openai
layers:
  intent: false
cache:
  enabled: true
`), 0o600))

	var out bytes.Buffer
	container, err := BuildCLIContainer(&CLIOptions{
		ConfigFile: path,
		Provider:   "none",
		Format:     filter.FormatJSON,
		Output:     &out,
	})
	require.NoError(t, err)

	err = container.Invoke(func(cli *filter.CliFilter, cfg *config.Config, service *core.ScanService) {
		assert.NotNil(t, cli)
		assert.Equal(t, "none", cfg.GetLLM().Provider)
		assert.False(t, cfg.GetCache().Enabled)
		assert.False(t, service.DefaultLayers().Intent)
	})
	require.NoError(t, err)
}

func TestBuildCLIContainerRejectsFormat(t *testing.T) {
	container, err := BuildCLIContainer(&CLIOptions{Provider: "none", Format: "yaml"})
	require.NoError(t, err)

	err = container.Invoke(func(*filter.CliFilter) {})
	assert.ErrorContains(t, err, "unsupported output format")
}
