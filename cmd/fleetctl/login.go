package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"fleetconsole/internal/auth"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		username      string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:         "login",
		Short:       "Sign in and store the bearer token",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoAuth: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				username = a.cfg.Auth.Username
			}
			password, err := a.readPassword(passwordStdin)
			if err != nil {
				return err
			}

			token, err := a.client().Login(cmd.Context(), username, password)
			if errors.Is(err, auth.ErrUnauthorized) {
				return errors.New("login failed: invalid username or password")
			}
			if err != nil {
				return err
			}
			if err := a.store.Save(auth.Credential{Token: token, Username: username}); err != nil {
				return errors.Wrap(err, "store credential")
			}
			a.session.Set(token)
			fmt.Fprintf(a.out, "logged in as %s (credential saved to %s)\n", username, a.store.Path())
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "user name (default auth.username)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

// readPassword prompts without echo on a terminal and reads one line
// otherwise.
func (a *app) readPassword(fromStdin bool) (string, error) {
	if f, ok := stdinFile(a.in); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.errOut, "Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.errOut)
		if err != nil {
			return "", errors.Wrap(err, "read password")
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Wrap(err, "read password from stdin")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Forget the stored bearer token",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoAuth: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Remove(); err != nil {
				return err
			}
			a.session.Set("")
			fmt.Fprintln(a.out, "logged out")
			return nil
		},
	}
}
