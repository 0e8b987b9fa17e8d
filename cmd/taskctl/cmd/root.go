package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	userURL     string
	projectURL  string
	taskURL     string
	notifierURL string
	timeout     time.Duration
	outputJSON  bool
	jwtToken    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "taskctl",
	Short: "taskmesh CLI - Interact with the taskmesh services",
	Long: `taskmesh CLI (taskctl) is a command line tool for the taskmesh services.

You can use it to log in, mint and inspect identity tokens, publish task
events and ask the project and user services whether a resource exists.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.taskctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&userURL, "user-url", "http://localhost:8081", "user service base URL")
	rootCmd.PersistentFlags().StringVar(&projectURL, "project-url", "http://localhost:8082", "project service base URL")
	rootCmd.PersistentFlags().StringVar(&taskURL, "task-url", "http://localhost:8083", "task service base URL")
	rootCmd.PersistentFlags().StringVar(&notifierURL, "notifier-url", "http://localhost:8084", "notifier base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&jwtToken, "token", "", "bearer token (overrides TASKMESH_TOKEN and the stored login)")

	// Bind flags to viper
	for _, name := range configKeys {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

// configKeys are the settings config view/set understand
var configKeys = []string{"user-url", "project-url", "task-url", "notifier-url", "timeout", "json"}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".taskctl")
	}

	viper.SetEnvPrefix("taskctl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Override global variables with config values if flags weren't explicitly set
	flags := rootCmd.PersistentFlags()
	for name, dst := range map[string]*string{
		"user-url":     &userURL,
		"project-url":  &projectURL,
		"task-url":     &taskURL,
		"notifier-url": &notifierURL,
	} {
		if !flags.Changed(name) {
			if s := viper.GetString(name); s != "" {
				*dst = s
			}
		}
	}
	if !flags.Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !flags.Changed("json") {
		outputJSON = viper.GetBool("json")
	}
}

// bearerToken resolves the token to send: flag, then TASKMESH_TOKEN, then the
// one stored by login.
func bearerToken() string {
	if jwtToken != "" {
		return jwtToken
	}
	if t := os.Getenv("TASKMESH_TOKEN"); t != "" {
		return t
	}
	t, err := loadToken()
	if err != nil {
		return ""
	}
	return t
}

// apiError is a non-2xx answer from a taskmesh service
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: HTTP %d", e.Status)
	}
	return fmt.Sprintf("request failed: HTTP %d: %s", e.Status, e.Message)
}

// doJSON sends body as JSON to base+path and decodes a 2xx answer into out
func doJSON(method, base, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, strings.TrimRight(base, "/")+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if t := bearerToken(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}

	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// printOutput prints v as indented JSON when --json is set, otherwise with human
func printOutput(cmd *cobra.Command, v any, human func(w io.Writer)) {
	w := cmd.OutOrStdout()
	if !outputJSON {
		human(w)
		return
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error marshaling to JSON: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(raw))
}
