package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/knowyouranimal/kya/internal/api"
	"github.com/knowyouranimal/kya/internal/auth"
	"github.com/knowyouranimal/kya/internal/kya/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	asAdmin       bool
	loginEmail    string
	loginUsername string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the Know Your Animal backend",
	Long: `Log in with email and password. The session cookie is kept in
cookies.json next to the config file and used by later commands.

The password is read from the terminal, or from the first line of stdin
when stdin is not a terminal.

Examples:
  kya login --email farmer@example.com
  kya login --admin --email admin@example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, err := promptValue("Email", loginEmail)
		if err != nil {
			return err
		}
		password, err := readPassword()
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(ctx context.Context, c *auth.Client) error {
			user, err := c.Login(ctx, email, password)
			if err != nil {
				if api.IsStatus(err, http.StatusUnauthorized) || api.IsStatus(err, http.StatusBadRequest) {
					return fmt.Errorf("login failed: %w", err)
				}
				return fmt.Errorf("logging in: %w", err)
			}
			fmt.Printf("Logged in as %s (%s).\n", user.Username, sessionKind())
			return nil
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a user account",
	Long: `Create a user account and log in with it.

Example:
  kya register --username ramesh --email ramesh@example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		username, err := promptValue("Username", loginUsername)
		if err != nil {
			return err
		}
		email, err := promptValue("Email", loginEmail)
		if err != nil {
			return err
		}
		password, err := readPassword()
		if err != nil {
			return err
		}

		return withSession(cmd.Context(), func(ctx context.Context, c *auth.Client) error {
			user, err := c.Register(ctx, username, email, password)
			if err != nil {
				return fmt.Errorf("registering: %w", err)
			}
			fmt.Printf("Account created. Logged in as %s.\n", user.Username)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and forget the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, c *auth.Client) error {
			if err := c.Logout(ctx); err != nil {
				return fmt.Errorf("logging out: %w", err)
			}
			fmt.Printf("Logged out (%s).\n", sessionKind())
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, c *auth.Client) error {
			user, err := c.Profile(ctx)
			if err != nil {
				if api.IsStatus(err, http.StatusUnauthorized) {
					return fmt.Errorf("not logged in (%s)\n\nLog in with: kya login", sessionKind())
				}
				return fmt.Errorf("getting profile: %w", err)
			}
			fmt.Printf("Username: %s\n", user.Username)
			fmt.Printf("Email: %s\n", user.Email)
			if user.Role != "" {
				fmt.Printf("Role: %s\n", user.Role)
			}
			return nil
		})
	},
}

func sessionKind() string {
	if asAdmin {
		return "admin"
	}
	return "user"
}

// withSession runs fn with an auth client and saves the cookie jar afterwards,
// whether or not fn succeeded.
func withSession(ctx context.Context, fn func(context.Context, *auth.Client) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	client, jar, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	c := auth.NewUser(client)
	if asAdmin {
		c = auth.NewAdmin(client)
	}
	runErr := fn(ctx, c)
	if err := jar.Save(); err != nil {
		return errors.Join(runErr, fmt.Errorf("saving session: %w", err))
	}
	return runErr
}

var stdinReader = bufio.NewReader(os.Stdin)

// promptValue returns value, or asks for it on stderr when it is empty.
func promptValue(label, value string) (string, error) {
	if strings.TrimSpace(value) != "" {
		return value, nil
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := stdinReader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads a password without echo from a terminal, or a line from
// piped stdin.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdinReader.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

func init() {
	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd)

	for _, c := range []*cobra.Command{loginCmd, logoutCmd, whoamiCmd} {
		c.Flags().BoolVar(&asAdmin, "admin", false, "Use the administrator session")
	}
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Email address (asked for when omitted)")
	registerCmd.Flags().StringVar(&loginEmail, "email", "", "Email address (asked for when omitted)")
	registerCmd.Flags().StringVar(&loginUsername, "username", "", "Username (asked for when omitted)")
}
