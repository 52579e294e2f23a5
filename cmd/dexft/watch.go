package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dexft/dexft/internal/api"
	"github.com/dexft/dexft/internal/client"
	"github.com/spf13/cobra"
)

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream toggle state changes until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	c, err := client.New()
	if err != nil {
		return out.Error("Failed to configure daemon client", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Watch(ctx, func(msg api.StreamMessage) {
		printStreamMessage(out, msg)
	}); err != nil {
		return out.Error("Watch stream failed", err)
	}
	return nil
}

// printStreamMessage writes one line per frame; JSON mode emits NDJSON.
func printStreamMessage(out *OutputFormatter, msg api.StreamMessage) {
	if out.jsonMode {
		data, err := json.Marshal(msg)
		if err != nil {
			return
		}
		fmt.Println(string(data))
		return
	}
	line := fmt.Sprintf("%s  %-15s %s", msg.Timestamp.Local().Format(time.TimeOnly), msg.Data.State, msg.Data.Status)
	if msg.Data.Reason != "" {
		line += " (" + msg.Data.Reason + ")"
	}
	fmt.Println(line)
}
