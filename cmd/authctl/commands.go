package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/authkit/internal/authctl"
	"github.com/aussiebroadwan/authkit/pkg/authmanager"
	"github.com/aussiebroadwan/authkit/pkg/authsdk"
	"github.com/aussiebroadwan/authkit/pkg/realtime"
)

func newSignInCmd() *cobra.Command {
	var (
		creds         authctl.Credentials
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and persist the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passwordStdin {
				pw, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				creds.Password = pw
			}
			if creds.Password == "" {
				creds.Password = os.Getenv("AUTHCTL_PASSWORD")
			}

			return withApp(cmd, func(ctx context.Context, app *authctl.Application) error {
				err := app.Session().SignIn(ctx, creds)

				var mfa *authsdk.MFARequiredError
				if errors.As(err, &mfa) {
					fmt.Fprintf(cmd.ErrOrStderr(),
						"second factor required (methods: %s); retry with --mfa-token %s --mfa-method <method> --mfa-code <code>\n",
						strings.Join(mfa.Methods, ", "), mfa.MFAToken)
				}
				if err != nil {
					return err
				}
				return printUser(cmd.OutOrStdout(), app.Session().AuthData())
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&creds.Username, "username", "u", "", "username (email for the mock provider)")
	f.StringVarP(&creds.Password, "password", "p", "", "password (prefer --password-stdin or $AUTHCTL_PASSWORD)")
	f.BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	f.StringVar(&creds.MFAToken, "mfa-token", "", "MFA token from a previous attempt")
	f.StringVar(&creds.MFAMethod, "mfa-method", "totp", "MFA method")
	f.StringVar(&creds.MFACode, "mfa-code", "", "MFA code")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func newSignOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "End the session and revoke it remotely",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *authctl.Application) error {
				if !app.Session().IsSignedIn() {
					fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
					return nil
				}
				if err := app.Session().SignOut(ctx); err != nil {
					// The local session is gone either way.
					app.Logger().Warn("remote sign-out failed", "err", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "signed out")
				return nil
			})
		},
	}
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for new tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *authctl.Application) error {
				if err := requireSignedIn(app); err != nil {
					return err
				}
				if err := app.Session().RefreshToken(ctx, ""); err != nil {
					return err
				}
				if !app.Session().IsSignedIn() {
					return fmt.Errorf("%w: the refresh token was rejected", errNotSignedIn)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "tokens refreshed")
				return nil
			})
		},
	}
}

func newWhoAmICmd() *cobra.Command {
	var showTokens bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *authctl.Application) error {
				if err := requireSignedIn(app); err != nil {
					return err
				}
				data := app.Session().AuthData()
				if !showTokens {
					return printUser(cmd.OutOrStdout(), data)
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"user":          data.User,
					"access_token":  data.AccessToken,
					"refresh_token": data.RefreshToken,
					"extra":         data.Extra,
				})
			})
		},
	}
	cmd.Flags().BoolVar(&showTokens, "show-tokens", false, "include the raw tokens")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "GET a path relative to the base URL with the session's credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *authctl.Application) error {
				resp, err := app.Session().Client().Get(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(resp.Body)
				return err
			})
		},
	}
}

func newListenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen <ws-url> <room> [room-id]",
		Short: "Join a realtime room with the session's credentials and print its messages",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID := ""
			if len(args) == 3 {
				roomID = args[2]
			}

			return withApp(cmd, func(ctx context.Context, app *authctl.Application) error {
				if err := requireSignedIn(app); err != nil {
					return err
				}

				rt := realtime.New(app.Session().AuthorizationHeader, app.Logger())
				defer rt.DisconnectAll()

				conn, err := rt.Connect(ctx, args[0], args[1], roomID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if _, err := conn.OnMessage(func(data json.RawMessage) {
					fmt.Fprintln(out, string(data))
				}); err != nil {
					return err
				}
				lost := make(chan error, 1)
				if _, err := conn.OnError(func(err error) {
					select {
					case lost <- err:
					default:
					}
				}); err != nil {
					return err
				}

				fmt.Fprintf(cmd.ErrOrStderr(), "joined %s\n", conn.Room())
				select {
				case <-ctx.Done():
					return nil
				case err := <-lost:
					return err
				case <-conn.Done():
					return nil
				}
			})
		},
	}
}

func printUser(w io.Writer, data authmanager.AuthData) error {
	return printJSON(w, data.User)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
