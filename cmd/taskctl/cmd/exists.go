package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/austindbirch/taskmesh/internal/auth"
	"github.com/austindbirch/taskmesh/internal/existence"
)

var existsCmd = &cobra.Command{
	Use:   "exists",
	Short: "Ask whether a project or user exists",
	Long: `Run the same existence checks the task and project services run before
accepting a write.`,
}

var existsProjectCmd = &cobra.Command{
	Use:   "project [id]",
	Short: "Check a project id against the project service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExists(cmd, existence.KindProject, args[0])
	},
}

var existsUserCmd = &cobra.Command{
	Use:   "user [username]",
	Short: "Check a username against the user service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExists(cmd, existence.KindUser, args[0])
	},
}

func runExists(cmd *cobra.Command, kind existence.Kind, id string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if t := bearerToken(); t != "" {
		ctx = auth.WithIdentity(ctx, "taskctl", t)
	}

	client := existence.NewHTTPClient(projectURL, userURL, existence.WithTimeout(timeout))
	ok, err := client.Exists(ctx, kind, id)
	if err != nil {
		return err
	}
	printOutput(cmd, map[string]any{"kind": kind, "id": id, "exists": ok}, func(w io.Writer) {
		if ok {
			fmt.Fprintf(w, "%s %s exists\n", kind, id)
		} else {
			fmt.Fprintf(w, "%s %s not found\n", kind, id)
		}
	})
	return nil
}

func init() {
	rootCmd.AddCommand(existsCmd)
	existsCmd.AddCommand(existsProjectCmd)
	existsCmd.AddCommand(existsUserCmd)
}
