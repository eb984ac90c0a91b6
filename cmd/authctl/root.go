package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/authkit/internal/authctl"
	"github.com/aussiebroadwan/authkit/pkg/authmanager"
	"github.com/aussiebroadwan/authkit/pkg/authsdk"
)

// Exit codes for scripting.
const (
	exitError        = 1
	exitAuthRequired = 2
	exitAuthFailed   = 3
	exitMFARequired  = 4
)

var errNotSignedIn = errors.New("not signed in")

var configPath string

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "Manage an authentication session from the command line",
	Long: `authctl signs in to an authentication service, keeps the session in a
local or shared store between invocations and makes authenticated requests
with automatic token refresh.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default $AUTHCTL_CONFIG or the user config dir)")

	rootCmd.AddCommand(
		newSignInCmd(),
		newSignOutCmd(),
		newRefreshCmd(),
		newWhoAmICmd(),
		newGetCmd(),
		newListenCmd(),
	)
}

func execute() {
	rootCmd.Version = authctl.BuildVersion
	rootCmd.SetVersionTemplate(`{{printf "authctl version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var mfa *authsdk.MFARequiredError
	switch {
	case errors.Is(err, errNotSignedIn):
		return exitAuthRequired
	case errors.As(err, &mfa):
		return exitMFARequired
	case authmanager.IsCredentialRejected(err):
		return exitAuthFailed
	default:
		return exitError
	}
}

// withApp loads configuration, restores the session, runs fn and closes the
// application, reporting the first error.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *authctl.Application) error) (err error) {
	cfg, err := authctl.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := authctl.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(ctx, app)
}

func requireSignedIn(app *authctl.Application) error {
	if !app.Session().IsSignedIn() {
		return fmt.Errorf("%w: run 'authctl signin' first", errNotSignedIn)
	}
	return nil
}
