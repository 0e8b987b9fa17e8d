package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/taskmesh/internal/bus"
	"github.com/austindbirch/taskmesh/internal/events"
	"github.com/austindbirch/taskmesh/internal/logging"
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Publish task events",
	Long:  `Publish task-changed events to exercise the notifier.`,
}

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish [title] [assigned-to]",
	Short: "Publish a task event",
	Long: `Publish a task event. By default the event goes through the notifier's
/api/notifications/notify endpoint; with --nsqd it is written straight to nsqd.

Example:
  taskctl event publish "Fix bug" alice --status IN_PROGRESS
  taskctl event publish "Fix bug" alice --nsqd localhost:4150`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		status, _ := cmd.Flags().GetString("status")
		nsqd, _ := cmd.Flags().GetString("nsqd")
		topic, _ := cmd.Flags().GetString("topic")

		ev := events.NewTaskChanged(events.KindUpdated, time.Now())
		ev.Title, ev.Description, ev.AssignedTo, ev.Status = args[0], description, args[1], status

		if nsqd != "" {
			if err := publishDirect(cmd.Context(), nsqd, topic, ev); err != nil {
				return err
			}
		} else {
			var resp struct {
				Message string `json:"message"`
			}
			if err := doJSON(http.MethodPost, notifierURL, "/api/notifications/notify", ev, &resp); err != nil {
				return fmt.Errorf("failed to publish event: %w", err)
			}
		}

		printOutput(cmd, ev, func(w io.Writer) {
			fmt.Fprintf(w, "Published event: %s\n", ev.EventID)
			fmt.Fprintf(w, "  Title: %s\n", ev.Title)
			fmt.Fprintf(w, "  Assigned to: %s\n", ev.AssignedTo)
		})
		return nil
	},
}

func publishDirect(ctx context.Context, nsqd, topic string, ev events.TaskChanged) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := bus.NewNSQ(bus.NSQConfig{
		NsqdTCPAddr:    nsqd,
		PublishTimeout: timeout,
		Logger:         logging.New("taskctl"),
	})
	if err != nil {
		return err
	}
	defer b.Close()
	return b.Publish(ctx, topic, ev)
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(publishCmd)

	publishCmd.Flags().String("description", "", "task description")
	publishCmd.Flags().String("status", "TO_DO", "task status")
	publishCmd.Flags().String("nsqd", "", "publish straight to this nsqd TCP address")
	publishCmd.Flags().String("topic", events.TaskNotificationsTopic, "topic for --nsqd")
}
