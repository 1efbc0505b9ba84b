package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/linanwx/clawlink/secret"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the server bearer token in secure storage",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Store the bearer token (prompts when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTokenSet,
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the stored bearer token",
	RunE:  runTokenDelete,
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a bearer token is stored",
	RunE:  runTokenStatus,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenDeleteCmd)
	tokenCmd.AddCommand(tokenStatusCmd)
}

func runTokenSet(_ *cobra.Command, args []string) error {
	token := ""
	if len(args) == 1 {
		token = args[0]
	} else {
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Server bearer token").
					EchoMode(huh.EchoModePassword).
					Validate(requireNonEmpty("token")).
					Value(&token),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, secrets, err := openSecrets(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := secrets.SaveToken(cfg.Server.TokenService, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	fmt.Printf("Token stored for service %q.\n", cfg.Server.TokenService)
	return nil
}

func runTokenDelete(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, secrets, err := openSecrets(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := secrets.DeleteToken(cfg.Server.TokenService); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	fmt.Printf("Token removed for service %q.\n", cfg.Server.TokenService)
	return nil
}

func runTokenStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, secrets, err := openSecrets(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = secrets.Token(cfg.Server.TokenService)
	switch {
	case errors.Is(err, secret.ErrNotFound):
		fmt.Printf("No token stored for service %q.\n", cfg.Server.TokenService)
	case err != nil:
		return fmt.Errorf("stored token unreadable (wrong passphrase?): %w", err)
	default:
		fmt.Printf("Token stored for service %q.\n", cfg.Server.TokenService)
	}
	return nil
}

func requireNonEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func confirm(title string) (bool, error) {
	ok := false
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Value(&ok),
		),
	).Run()
	return ok, err
}
