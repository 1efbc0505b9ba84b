package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/linanwx/clawlink/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize clawlink configuration",
	Long:  `Create the clawlink configuration directory, config file and bearer token.`,
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

// providerURLs maps inference providers to their API key portal URLs.
var providerURLs = map[string]string{
	"openai":    "https://platform.openai.com/api-keys",
	"anthropic": "https://console.anthropic.com",
}

var providerModels = map[string][]string{
	"openai":    {"gpt-4o-mini", "gpt-4o"},
	"anthropic": {"claude-3-5-haiku-latest", "claude-sonnet-4-5"},
}

func runOnboard(_ *cobra.Command, _ []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config already exists at:", configPath)
		fmt.Println("To reconfigure, edit the file directly or delete it first.")
		return nil
	}

	// --- interactive wizard ---

	var (
		serverURL        string
		token            string
		storageDriver    = "file"
		selectedProvider string
		selectedModel    string
		apiKey           string
	)

	// Step 1: server
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Command server URL").
				Description("The websocket endpoint, e.g. wss://example.com/ws").
				Validate(func(s string) error {
					s = strings.TrimSpace(s)
					if !strings.HasPrefix(s, "ws://") && !strings.HasPrefix(s, "wss://") {
						return fmt.Errorf("url must start with ws:// or wss://")
					}
					return nil
				}).
				Value(&serverURL),
			huh.NewInput().
				Title("Bearer token").
				Description("Sent as the Authorization header. Leave empty to connect without one.").
				EchoMode(huh.EchoModePassword).
				Value(&token),
			huh.NewSelect[string]().
				Title("Storage backend").
				Description("Where the offline queue and secrets are kept.").
				Options(
					huh.NewOption("Files", "file"),
					huh.NewOption("SQLite", "sqlite"),
				).
				Value(&storageDriver),
		),
	).Run()
	if err != nil {
		return err
	}

	// Step 2: optional inference provider
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Inference provider for generate_text").
				Options(
					huh.NewOption("None", ""),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Anthropic", "anthropic"),
				).
				Value(&selectedProvider),
		),
	).Run()
	if err != nil {
		return err
	}

	if selectedProvider != "" {
		modelOptions := make([]huh.Option[string], 0, len(providerModels[selectedProvider]))
		for _, m := range providerModels[selectedProvider] {
			modelOptions = append(modelOptions, huh.NewOption(m, m))
		}
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Choose model for "+selectedProvider).
					Options(modelOptions...).
					Value(&selectedModel),
				huh.NewInput().
					Title("Enter your "+selectedProvider+" API key").
					Description("Create one at "+providerURLs[selectedProvider]+". Leave empty to use the environment.").
					EchoMode(huh.EchoModePassword).
					Value(&apiKey),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	// --- apply config ---

	cfg := config.DefaultConfig()
	cfg.Server.URL = strings.TrimSpace(serverURL)
	cfg.Storage.Driver = storageDriver
	cfg.Inference.Provider = selectedProvider
	cfg.Inference.Model = selectedModel
	cfg.Inference.APIKey = strings.TrimSpace(apiKey)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	if strings.TrimSpace(token) != "" {
		store, secrets, err := openSecrets(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := secrets.SaveToken(cfg.Server.TokenService, token); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
	}

	fmt.Println()
	fmt.Println("clawlink initialized successfully!")
	fmt.Println()
	fmt.Println("  Config:", configPath)
	fmt.Println("  Server:", cfg.Server.URL)
	fmt.Println("  Storage:", cfg.Storage.Driver)
	if selectedProvider != "" {
		fmt.Println("  Inference:", selectedProvider, selectedModel)
	}
	fmt.Println()
	fmt.Println("Run 'clawlink serve' to start.")
	return nil
}
