package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mbd888/merchantshield/internal/auth"
	"github.com/mbd888/merchantshield/internal/session"
	"github.com/spf13/cobra"
)

// passwordFrom prefers the flag, then SHIELD_PASSWORD.
func passwordFrom(cmd *cobra.Command) (string, error) {
	pw, _ := cmd.Flags().GetString("password")
	if pw == "" {
		pw = os.Getenv("SHIELD_PASSWORD")
	}
	if pw == "" {
		return "", errors.New("a password is required (--password or SHIELD_PASSWORD)")
	}
	return pw, nil
}

func signupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup [username]",
		Short: "Register a new merchant account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(cmd)
			if err != nil {
				return err
			}
			confirm, _ := cmd.Flags().GetString("confirm")
			if confirm == "" {
				confirm = pw
			}

			user, err := a.client.Auth.Signup(cmd.Context(), auth.SignupForm{
				Username:        args[0],
				Password:        pw,
				ConfirmPassword: confirm,
			})
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(user)
			}
			fmt.Fprintf(a.out, "Registered %s. Log in with: shieldctl login %s\n", user.Username, user.Username)
			return nil
		},
	}
	cmd.Flags().StringP("password", "p", "", "Password (or SHIELD_PASSWORD)")
	cmd.Flags().String("confirm", "", "Password confirmation (defaults to --password)")
	return cmd
}

func loginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Log in and save the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(cmd)
			if err != nil {
				return err
			}
			result, err := a.client.Auth.Login(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(map[string]any{
					"username": result.Username,
					"role":     result.Role,
					"mode":     result.Mode,
				})
			}
			fmt.Fprintf(a.out, "Logged in as %s (%s)\n", result.Username, result.Role)
			if result.Mode == session.ModeMessageOnly {
				fmt.Fprintln(a.errOut, "Warning: the backend issued no token; using a local placeholder session.")
			}
			return nil
		},
	}
	cmd.Flags().StringP("password", "p", "", "Password (or SHIELD_PASSWORD)")
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Auth.Logout(cmd.Context()); err != nil {
				return err
			}
			if !a.asJSON {
				fmt.Fprintln(a.out, "Logged out")
			}
			return nil
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := a.client.Sessions.Snapshot()
			info := session.Inspect(snap.Token, time.Now())

			if a.asJSON {
				return a.printJSON(map[string]any{
					"user":        snap.User,
					"mode":        snap.Mode,
					"placeholder": auth.IsPlaceholder(snap.Token),
					"token":       info,
				})
			}
			if snap.User == nil {
				fmt.Fprintln(a.out, "Not logged in")
				return nil
			}
			fmt.Fprintf(a.out, "%s (%s)\n", snap.User.Username, snap.User.Role)
			switch {
			case !snap.HasToken():
				fmt.Fprintln(a.out, "Token:   none")
			case auth.IsPlaceholder(snap.Token):
				fmt.Fprintln(a.out, "Token:   local placeholder")
			case info.JWT && !info.ExpiresAt.IsZero():
				state := "valid until"
				if info.Expired {
					state = "expired at"
				}
				fmt.Fprintf(a.out, "Token:   JWT, %s %s\n", state, info.ExpiresAt.Local().Format(time.RFC1123))
			default:
				fmt.Fprintln(a.out, "Token:   opaque")
			}
			return nil
		},
	}
}
