package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/schoolhub/portal/internal/auth"
	"github.com/schoolhub/portal/internal/backend"
)

var errNotSignedIn = errors.New("not signed in; run portalctl login")

func newLoginCmd(opts *options) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				secret, err := readSecret(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = secret
			}
			store, persist := opts.store()
			id, err := store.Login(cmd.Context(), email, password)
			if err != nil {
				var authErr *auth.AuthenticationError
				if errors.As(err, &authErr) {
					return errors.New(authErr.Message)
				}
				return err
			}
			if err := persist.Err(); err != nil {
				return fmt.Errorf("save credential: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", id.Name, id.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when empty)")
	return cmd
}

func newWhoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, persist := opts.store()
			id, err := resolve(cmd, store, persist)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s <%s>\n", id.Name, id.Email)
			fmt.Fprintf(out, "role: %s\n", id.Role)
			return nil
		},
	}
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, persist := opts.store()
			store.Logout()
			if err := persist.Err(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newPasswordCmd(opts *options) *cobra.Command {
	var current, next string
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change the account password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if current == "" || next == "" {
				return errors.New("--current and --new are required")
			}
			if len(next) < 6 {
				return errors.New("new password must be at least 6 characters")
			}
			if next == current {
				return errors.New("new password must differ from the current one")
			}
			store, persist := opts.store()
			if _, err := resolve(cmd, store, persist); err != nil {
				return err
			}
			if err := store.UpdatePassword(cmd.Context(), current, next); err != nil {
				return errors.New(backend.Message(err, "Failed to update password"))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password updated successfully")
			return nil
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "current password")
	cmd.Flags().StringVar(&next, "new", "", "new password")
	return cmd
}

// resolve validates the stored credential against the backend.
func resolve(cmd *cobra.Command, store *auth.Store, persist *auth.FilePersistence) (auth.Identity, error) {
	if err := store.Initialize(cmd.Context()); err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			return auth.Identity{}, errors.New("session expired; run portalctl login")
		}
		return auth.Identity{}, err
	}
	if err := persist.Err(); err != nil {
		return auth.Identity{}, err
	}
	id, ok := store.Identity()
	if !ok {
		return auth.Identity{}, errNotSignedIn
	}
	return id, nil
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("password is required")
	}
	return secret, nil
}
