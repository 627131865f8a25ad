package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/habedi/tandem/auth"
	"github.com/habedi/tandem/client"
	"github.com/habedi/tandem/pkg/clierr"
	"github.com/habedi/tandem/pkg/validation"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// stdin is read by the prompts; tests replace it.
var stdin = bufio.NewReader(os.Stdin)

// loginCmd logs into the API with email and password and saves the session.
func loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with your email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if email == "" {
				if email, err = promptForInput(cmd, "Email: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = promptForPassword(cmd, "Password: "); err != nil {
					return err
				}
			}
			if err := validateCredentials(email, password); err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			cred, err := a.sess.Login(cmd.Context(), email, password)
			if err != nil {
				if client.IsStatus(err, http.StatusUnauthorized) || client.IsStatus(err, http.StatusBadRequest) {
					return clierr.New(clierr.Auth, "Login failed: wrong email or password.", err)
				}
				return toCLIError(err)
			}
			cmd.Println("Logged in as", describeUser(cred.User))
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email (prompted for when empty)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted for when empty)")

	return cmd
}

// registerCmd creates an account and logs into it.
func registerCmd() *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log into it",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if name == "" {
				if name, err = promptForInput(cmd, "Name: "); err != nil {
					return err
				}
			}
			if email == "" {
				if email, err = promptForInput(cmd, "Email: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = promptForPassword(cmd, "Password: "); err != nil {
					return err
				}
			}
			if err := validation.ValidateNonEmptyString("name", name); err != nil {
				return validationError(err)
			}
			if err := validateCredentials(email, password); err != nil {
				return err
			}
			if err := validation.ValidatePassword(password); err != nil {
				return validationError(err)
			}

			a, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			cred, err := a.sess.Register(cmd.Context(), name, email, password)
			if err != nil {
				if client.IsStatus(err, http.StatusConflict) {
					return clierr.New(clierr.Validation, "An account with this email already exists.", err)
				}
				return toCLIError(err)
			}
			cmd.Println("Account created. Logged in as", describeUser(cred.User))
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name (prompted for when empty)")
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email (prompted for when empty)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted for when empty)")

	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, ok := a.store.Current(); !ok {
				cmd.Println("Not logged in.")
				return nil
			}
			if err := a.sess.Logout(cmd.Context()); err != nil {
				return toCLIError(err)
			}
			cmd.Println("Logged out.")
			return nil
		},
	}
}

// whoamiCmd shows the logged-in user, asking the server when it can and
// falling back to the saved profile when it cannot be reached.
func whoamiCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			cred, ok := a.store.Current()
			if !ok {
				return toCLIError(client.ErrNoCredential)
			}
			if offline {
				cmd.Println(describeUser(cred.User))
				return nil
			}
			p, err := a.api.Profile(cmd.Context())
			if err != nil {
				return toCLIError(err)
			}
			cmd.Println(describeUser(p))
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Print the saved profile without contacting the server")

	return cmd
}

func describeUser(p *auth.Profile) string {
	if p == nil {
		return "(unknown user)"
	}
	switch {
	case p.Name != "" && p.Email != "":
		return fmt.Sprintf("%s <%s>", p.Name, p.Email)
	case p.Email != "":
		return p.Email
	case p.Name != "":
		return p.Name
	default:
		return p.ID
	}
}

// promptForInput prompts the user for a line of input and returns it trimmed.
func promptForInput(cmd *cobra.Command, prompt string) (string, error) {
	cmd.Print(prompt)
	input, err := stdin.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || input == "") {
		return "", clierr.New(clierr.Validation, "Failed to read input.", err)
	}
	return strings.TrimSpace(input), nil
}

// promptForPassword reads a password without echo when stdin is a terminal.
func promptForPassword(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptForInput(cmd, prompt)
	}
	cmd.Print(prompt)
	password, err := term.ReadPassword(fd)
	cmd.Println()
	if err != nil {
		return "", clierr.New(clierr.Validation, "Failed to read password.", err)
	}
	return strings.TrimSpace(string(password)), nil
}

// validateCredentials checks the email address and that a password was given.
func validateCredentials(email, password string) error {
	if err := validation.ValidateEmail(email); err != nil {
		return validationError(err)
	}
	if err := validation.ValidateNonEmptyString("password", password); err != nil {
		return validationError(err)
	}
	return nil
}
