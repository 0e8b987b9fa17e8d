package cmd

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the user service and store the token",
	Long: `Exchange an email and password for a bearer token and keep it in the
system keyring. Later commands send it automatically.

Example:
  taskctl login --email alice@example.com --password 'correct horse'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if email == "" || password == "" {
			return fmt.Errorf("--email and --password are required")
		}

		var resp struct {
			Token string `json:"token"`
		}
		if err := doJSON(http.MethodPost, userURL, "/api/auth/login",
			map[string]string{"email": email, "password": password}, &resp); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if err := storeToken(resp.Token); err != nil {
			return err
		}

		printOutput(cmd, map[string]string{"email": email, "status": "logged in"}, func(w io.Writer) {
			fmt.Fprintf(w, "Logged in as %s\n", email)
		})
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := deleteToken(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)

	loginCmd.Flags().String("email", "", "account email")
	loginCmd.Flags().String("password", "", "account password")
}
