package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wayscout-io/wayscout/internal/config"
	"github.com/wayscout-io/wayscout/internal/secrets"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted credential keyring",
	Long: `Manage API credentials stored encrypted at rest under the data directory.

Set WAYSCOUT_SECRETS_KEY (32 bytes or 64 hex characters) to unlock the
keyring. A Groq API key stored under "` + secrets.GroqKeyName + `" is used by
detect and serve when GROQ_API_KEY is not set in the environment.`,
}

var secretsSetCmd = &cobra.Command{
	Use:   "set [name] [value]",
	Short: "Store an encrypted secret",
	Args:  cobra.ExactArgs(2),
	RunE:  secretsSet,
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secrets (names only, values not shown)",
	RunE:  secretsList,
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Remove a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE:  secretsDelete,
}

func init() {
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsListCmd)
	secretsCmd.AddCommand(secretsDeleteCmd)
	rootCmd.AddCommand(secretsCmd)
}

func openKeyring() (*secrets.Keyring, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.SecretsKey == "" {
		return nil, fmt.Errorf("WAYSCOUT_SECRETS_KEY is not set; the keyring needs a 32-byte key")
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return secrets.Open(cfg.SecretsDBPath(), cfg.SecretsKey)
}

func secretsSet(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	k, err := openKeyring()
	if err != nil {
		return fmt.Errorf("opening keyring: %w", err)
	}
	defer k.Close()

	if err := k.Set(ctx, args[0], args[1]); err != nil {
		return fmt.Errorf("storing secret: %w", err)
	}
	fmt.Printf("Secret %q stored (encrypted at rest)\n", args[0])
	return nil
}

func secretsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	k, err := openKeyring()
	if err != nil {
		return fmt.Errorf("opening keyring: %w", err)
	}
	defer k.Close()

	entries, err := k.List(ctx)
	if err != nil {
		return fmt.Errorf("listing secrets: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No secrets stored yet.")
		return nil
	}
	fmt.Println("Secrets (values not shown):")
	for _, e := range entries {
		fmt.Printf("  - %s (updated %s)\n", e.Name, e.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func secretsDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	k, err := openKeyring()
	if err != nil {
		return fmt.Errorf("opening keyring: %w", err)
	}
	defer k.Close()

	if err := k.Delete(ctx, args[0]); err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	fmt.Printf("Secret %q removed\n", args[0])
	return nil
}

// resolveGroqKeyFromKeyring fills cfg.GroqAPIKey from the keyring when no
// key came from the environment and a keyring key is configured. Missing
// entry or keyring errors leave the config untouched; RequireGroqKey still
// decides whether the command can proceed.
func resolveGroqKeyFromKeyring(ctx context.Context, cfg *config.Config) {
	if cfg.GroqAPIKey != "" || cfg.SecretsKey == "" {
		return
	}
	k, err := secrets.Open(cfg.SecretsDBPath(), cfg.SecretsKey)
	if err != nil {
		return
	}
	defer k.Close()
	if key, err := k.Get(ctx, secrets.GroqKeyName); err == nil {
		cfg.GroqAPIKey = key
	}
}
