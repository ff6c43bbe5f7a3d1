package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/delcoscraper/internal/delco"
)

var (
	loginBrowser bool
	loginVisible bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to Del-Co Water and save session tokens",
	Long: `Signs in with the configured username and password and saves the session
tokens to the config file.

With --browser, opens the customer portal so you can sign in yourself (for
accounts that need MFA). The tokens are captured from the browser session.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginBrowser, "browser", false, "Sign in through the customer portal in a browser")
	loginCmd.Flags().BoolVar(&loginVisible, "visible", true, "Show the browser window (with --browser)")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()

	var tokens delco.Tokens
	if loginBrowser {
		fmt.Println("Opening browser for Del-Co Water login...")
		fmt.Println("Please log in manually in the browser window.")
		fmt.Println("Once your account page has loaded, press Enter here to save...")

		login := &delco.BrowserLogin{
			PortalURL: cfg.DelCo.PortalURL,
			APIBase:   cfg.DelCo.APIBaseURL,
			Visible:   loginVisible,
			Timeout:   10 * time.Minute,
		}
		tokens, err = login.Capture(ctx, func() error {
			fmt.Scanln()
			return nil
		})
		if err != nil {
			return fmt.Errorf("capturing browser session: %w", err)
		}
	} else {
		if cfg.DelCo.Username == "" || cfg.DelCo.Password == "" {
			return fmt.Errorf("no credentials configured: set delco.username and delco.password, or DELCO_USERNAME and DELCO_PASSWORD")
		}
		fmt.Printf("Signing in as %s...\n", cfg.DelCo.Username)

		client := newClient(cfg)
		if err := client.Authenticate(ctx); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
		tokens = client.Tokens()
	}

	if err := saveTokens(tokens); err != nil {
		return fmt.Errorf("saving tokens: %w", err)
	}

	fmt.Printf("✓ Saved session tokens to %s\n", getConfigPath())
	if !tokens.Expiry.IsZero() {
		fmt.Printf("  Access token expires %s\n", tokens.Expiry.Local().Format("2006-01-02 15:04:05 MST"))
	}
	if tokens.RefreshToken == "" {
		fmt.Println("⚠ No refresh token captured; you will need to log in again when the session expires")
	}
	return nil
}
