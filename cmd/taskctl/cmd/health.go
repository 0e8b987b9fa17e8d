package cmd

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

type serviceHealth struct {
	Service string `json:"service"`
	URL     string `json:"url"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of every taskmesh service",
	Long:  `Call /healthz on the user, project, task and notifier services.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		results := checkHealth(map[string]string{
			"user":     userURL,
			"project":  projectURL,
			"task":     taskURL,
			"notifier": notifierURL,
		})

		printOutput(cmd, results, func(w io.Writer) {
			for _, r := range results {
				if r.Healthy {
					fmt.Fprintf(w, "✓ %s is healthy\n", r.Service)
				} else {
					fmt.Fprintf(w, "✗ %s is unhealthy: %s\n", r.Service, r.Detail)
				}
			}
		})
		return nil
	},
}

func checkHealth(services map[string]string) []serviceHealth {
	out := make([]serviceHealth, 0, len(services))
	for _, name := range []string{"user", "project", "task", "notifier"} {
		url, ok := services[name]
		if !ok {
			continue
		}
		h := serviceHealth{Service: name, URL: url}
		if err := doJSON(http.MethodGet, url, "/healthz", nil, nil); err != nil {
			h.Detail = err.Error()
		} else {
			h.Healthy = true
		}
		out = append(out, h)
	}
	return out
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
