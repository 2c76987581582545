package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openclaw/claw/internal/agent/ai"
	agentcfg "github.com/openclaw/claw/internal/agent/config"
)

// buildProvider resolves the provider selected by --provider, falling
// back to the config default. The returned func releases any resources
// the provider holds.
func buildProvider(cfg *agentcfg.Config) (ai.Provider, func(), error) {
	pcfg := cfg.Default()
	if providerArg != "" {
		pcfg = cfg.GetProvider(providerArg)
		if pcfg == nil {
			return nil, nil, fmt.Errorf("provider %q is not configured", providerArg)
		}
	}
	if pcfg == nil {
		return nil, nil, fmt.Errorf("no providers configured; add one to %s (run 'claw providers check')",
			filepath.Join(cfg.DataDir, agentcfg.ConfigFileName))
	}
	return newProvider(pcfg)
}

// newProvider builds one provider from its config entry.
func newProvider(pcfg *agentcfg.ProviderConfig) (ai.Provider, func(), error) {
	noop := func() {}

	switch pcfg.Type {
	case "anthropic":
		key := pcfg.ResolveAPIKey()
		if key == "" {
			return nil, nil, fmt.Errorf("provider %s: no API key (set ANTHROPIC_API_KEY or api_key in config)", pcfg.Name)
		}
		return ai.NewAnthropicProvider(key, pcfg.Model), noop, nil

	case "openai":
		key := pcfg.ResolveAPIKey()
		if key == "" {
			return nil, nil, fmt.Errorf("provider %s: no API key (set OPENAI_API_KEY or api_key in config)", pcfg.Name)
		}
		return ai.NewOpenAIProvider(key, pcfg.Model), noop, nil

	case "gemini":
		key := pcfg.ResolveAPIKey()
		if key == "" {
			return nil, nil, fmt.Errorf("provider %s: no API key (set GEMINI_API_KEY or api_key in config)", pcfg.Name)
		}
		p, err := ai.NewGeminiProvider(key, pcfg.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: %w", pcfg.Name, err)
		}
		return p, func() { p.Close() }, nil

	case "ollama":
		baseURL := pcfg.BaseURL
		if baseURL == "" {
			baseURL = ai.DefaultOllamaURL
		}
		if !ai.CheckOllamaAvailable(baseURL) {
			return nil, nil, fmt.Errorf("provider %s: ollama is not reachable at %s", pcfg.Name, baseURL)
		}
		p, err := ai.NewOllamaProvider(baseURL, pcfg.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: %w", pcfg.Name, err)
		}
		return p, noop, nil

	case "custom":
		if pcfg.BaseURL == "" {
			return nil, nil, fmt.Errorf("provider %s: custom providers need a base_url", pcfg.Name)
		}
		return ai.NewCustomProvider(pcfg.BaseURL, pcfg.ResolveAPIKey(), pcfg.Model), noop, nil

	default:
		return nil, nil, fmt.Errorf("provider %s: unknown type %q", pcfg.Name, pcfg.Type)
	}
}

// ProvidersCmd creates the providers command.
func ProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect configured LLM providers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Check provider configuration and reachability",
		Run: func(cmd *cobra.Command, args []string) {
			checkProviders(loadConfig())
		},
	})

	return cmd
}

const configExample = `providers:
  - name: claude
    type: anthropic
    model: claude-sonnet-4-20250514
  - name: local
    type: ollama
    model: llama3.2`

// checkProviders prints a configuration and reachability report.
func checkProviders(cfg *agentcfg.Config) {
	if len(cfg.Providers) == 0 {
		fmt.Println("No providers configured.")
		fmt.Printf("\nAdd providers to %s:\n\n%s\n", filepath.Join(cfg.DataDir, agentcfg.ConfigFileName), configExample)
		os.Exit(1)
	}

	defaultName := ""
	if def := cfg.Default(); def != nil {
		defaultName = def.Name
	}

	usable := 0
	for i := range cfg.Providers {
		pcfg := &cfg.Providers[i]
		marker := " "
		if pcfg.Name == defaultName {
			marker = "*"
		}

		status, ok := providerStatus(pcfg)
		if ok {
			usable++
			fmt.Printf("%s \033[32m✓\033[0m %s (%s): %s\n", marker, pcfg.Name, pcfg.Type, status)
		} else {
			fmt.Printf("%s \033[31m✗\033[0m %s (%s): %s\n", marker, pcfg.Name, pcfg.Type, status)
		}
	}

	fmt.Println()
	if usable == 0 {
		fmt.Println("\033[31mNo usable providers.\033[0m")
		os.Exit(1)
	}
	fmt.Printf("%d of %d providers usable. * marks the default.\n", usable, len(cfg.Providers))
}

// providerStatus reports one provider's health without building it.
func providerStatus(pcfg *agentcfg.ProviderConfig) (string, bool) {
	model := pcfg.Model
	if model == "" {
		model = "default model"
	}

	switch pcfg.Type {
	case "anthropic", "openai", "gemini":
		if pcfg.ResolveAPIKey() == "" {
			return "no API key found (config, environment or keychain)", false
		}
		return fmt.Sprintf("key found, %s", model), true

	case "ollama":
		baseURL := pcfg.BaseURL
		if baseURL == "" {
			baseURL = ai.DefaultOllamaURL
		}
		if !ai.CheckOllamaAvailable(baseURL) {
			return fmt.Sprintf("not reachable at %s", baseURL), false
		}
		if pcfg.Model != "" && !ollamaModelPulled(baseURL, pcfg.Model) {
			return fmt.Sprintf("reachable at %s but %s is not pulled (try: ollama pull %s)", baseURL, pcfg.Model, pcfg.Model), false
		}
		return fmt.Sprintf("reachable at %s, %s", baseURL, model), true

	case "custom":
		if pcfg.BaseURL == "" {
			return "missing base_url", false
		}
		return fmt.Sprintf("%s, %s", pcfg.BaseURL, model), true

	default:
		return fmt.Sprintf("unknown type %q", pcfg.Type), false
	}
}

// ollamaModelPulled reports whether the daemon lists the model locally.
// List names carry a tag suffix (llama3.2:latest), so a bare config
// name matches any tag.
func ollamaModelPulled(baseURL, model string) bool {
	names, err := ai.ListOllamaModels(context.Background(), baseURL)
	if err != nil {
		return true
	}
	for _, name := range names {
		if name == model || strings.HasPrefix(name, model+":") {
			return true
		}
	}
	return false
}
