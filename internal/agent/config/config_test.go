package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)
	require.Equal(t, 27717, cfg.Port)
	require.Equal(t, 50, cfg.MaxContext)
	require.NotEmpty(t, cfg.DataDir)
	require.Equal(t, ".claw", filepath.Base(cfg.DataDir))
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/claw-test"}
	require.Equal(t, filepath.Join("/tmp/claw-test", "data", "claw.db"), cfg.DBPath())
	require.Equal(t, filepath.Join("/tmp/claw-test", "skills"), cfg.SkillsDir())
}

func TestEnsureDataDir(t *testing.T) {
	cfg := &Config{DataDir: filepath.Join(t.TempDir(), "nested", "claw")}
	require.NoError(t, cfg.EnsureDataDir())

	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestSaveAndLoadFrom(t *testing.T) {
	cfg := &Config{
		DataDir:         t.TempDir(),
		Port:            30100,
		MaxContext:      25,
		DefaultProvider: "local",
		Providers: []ProviderConfig{
			{Name: "local", Type: "ollama", Model: "llama3.2", BaseURL: "http://localhost:11434"},
			{Name: "claude", Type: "anthropic", APIKey: "sk-test", Model: "claude-sonnet-4-5"},
		},
	}
	require.NoError(t, cfg.Save())

	loaded, err := LoadFrom(filepath.Join(cfg.DataDir, ConfigFileName))
	require.NoError(t, err)
	require.Equal(t, 30100, loaded.Port)
	require.Equal(t, 25, loaded.MaxContext)
	require.Equal(t, "local", loaded.DefaultProvider)
	require.Len(t, loaded.Providers, 2)
	require.Equal(t, "claude", loaded.Providers[1].Name)
	require.Equal(t, "sk-test", loaded.Providers[1].APIKey)
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadFromPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("max_context: 75\n"), 0600))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	require.Equal(t, 75, loaded.MaxContext)
	require.Equal(t, 27717, loaded.Port, "unset fields keep their defaults")
}

func TestLoadFromExpandsEnvAndHome(t *testing.T) {
	t.Setenv("CLAW_TEST_KEY", "expanded-key")
	t.Setenv("CLAW_TEST_URL", "http://test-host:9999")

	content := `
data_dir: ~/claw-home-test
providers:
  - name: primary
    type: openai
    api_key: ${CLAW_TEST_KEY}
  - name: local
    type: ollama
    base_url: $CLAW_TEST_URL
`
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	require.Equal(t, "expanded-key", loaded.Providers[0].APIKey)
	require.Equal(t, "http://test-host:9999", loaded.Providers[1].BaseURL)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(loaded.DataDir, home), "~ should expand to the home dir, got %s", loaded.DataDir)
}

func TestGetProvider(t *testing.T) {
	cfg := &Config{
		Providers: []ProviderConfig{
			{Name: "claude", Type: "anthropic"},
			{Name: "gpt", Type: "openai"},
		},
	}

	p := cfg.GetProvider("gpt")
	require.NotNil(t, p)
	require.Equal(t, "openai", p.Type)

	require.Nil(t, cfg.GetProvider("nonexistent"))
}

func TestDefault(t *testing.T) {
	t.Run("named default wins", func(t *testing.T) {
		cfg := &Config{
			DefaultProvider: "second",
			Providers: []ProviderConfig{
				{Name: "first"},
				{Name: "second"},
			},
		}
		p := cfg.Default()
		require.NotNil(t, p)
		require.Equal(t, "second", p.Name)
	})

	t.Run("falls back to first provider", func(t *testing.T) {
		cfg := &Config{Providers: []ProviderConfig{{Name: "only"}}}
		p := cfg.Default()
		require.NotNil(t, p)
		require.Equal(t, "only", p.Name)
	})

	t.Run("unknown default name falls back to first", func(t *testing.T) {
		cfg := &Config{
			DefaultProvider: "ghost",
			Providers:       []ProviderConfig{{Name: "real"}},
		}
		p := cfg.Default()
		require.NotNil(t, p)
		require.Equal(t, "real", p.Name)
	})

	t.Run("no providers", func(t *testing.T) {
		cfg := &Config{}
		require.Nil(t, cfg.Default())
	})
}

func TestResolveAPIKey(t *testing.T) {
	t.Run("config value wins", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "env-key")
		p := &ProviderConfig{Name: "claude", Type: "anthropic", APIKey: "config-key"}
		require.Equal(t, "config-key", p.ResolveAPIKey())
	})

	t.Run("environment fallback by type", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "env-key")
		p := &ProviderConfig{Name: "gpt", Type: "openai"}
		require.Equal(t, "env-key", p.ResolveAPIKey())
	})

	t.Run("ollama needs no key", func(t *testing.T) {
		p := &ProviderConfig{Name: "claw-test-no-such-entry", Type: "ollama"}
		require.Equal(t, "", p.ResolveAPIKey())
	})
}
