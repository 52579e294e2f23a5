package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dexft/dexft/internal/api"
	"github.com/dexft/dexft/internal/client"
	"github.com/spf13/cobra"
)

func newToggleCommand(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runToggle(cmd, enabled)
		},
	}
}

func runToggle(cmd *cobra.Command, enabled bool) error {
	out := newOutputFormatter(cmd)
	return withClient(out, func(ctx context.Context, c *client.Client) error {
		view, err := c.Toggle(ctx, enabled)
		if err != nil {
			return out.Error("Failed to toggle server", err)
		}
		if out.jsonMode {
			return out.Print(view)
		}
		fmt.Println(view.Status)
		if enabled && !view.Enabled && view.Reason != "" {
			return out.Error("Server did not start", fmt.Errorf("%s", view.Reason))
		}
		return nil
	})
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show lifecycle state and daemon details",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	return withClient(out, func(ctx context.Context, c *client.Client) error {
		status, err := c.Status(ctx)
		if err != nil {
			return out.Error("Failed to fetch status", err)
		}
		if out.jsonMode {
			return out.Print(status)
		}
		printStatus(status)
		return nil
	})
}

func printStatus(status api.StatusDTO) {
	fmt.Printf("State:    %s\n", status.State)
	fmt.Printf("Toggle:   %s\n", status.Toggle.Status)
	if !status.Since.IsZero() {
		fmt.Printf("Since:    %s\n", status.Since.Local().Format(time.RFC3339))
	}
	if status.UptimeMS > 0 {
		fmt.Printf("Uptime:   %s\n", (time.Duration(status.UptimeMS) * time.Millisecond).Round(time.Second))
	}
	if status.LastError != "" {
		fmt.Printf("Error:    %s\n", status.LastError)
	}
	fmt.Printf("Grants:   %d\n", status.Grants)
	fmt.Printf("Daemon:   %s (%s, %s)\n", status.Version, status.GoVersion, status.Platform)
	for _, svc := range status.Services {
		state := "stopped"
		if svc.Running {
			state = "running"
		}
		fmt.Printf("  %-12s %s\n", svc.Name, state)
	}
}

func newAddressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the LAN address clients should connect to",
		Args:  cobra.NoArgs,
		RunE:  runAddress,
	}
}

func runAddress(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	return withClient(out, func(ctx context.Context, c *client.Client) error {
		addr, err := c.Address(ctx)
		if err != nil {
			return out.Error("Failed to fetch address", err)
		}
		if out.jsonMode {
			return out.Print(addr)
		}
		if addr.Running && addr.Address != "" {
			fmt.Println(addr.Address)
			return nil
		}
		fmt.Println(addr.Status)
		return nil
	})
}

func newMediaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "media",
		Short: "List files indexed from the shared directory",
		Args:  cobra.NoArgs,
		RunE:  runMedia,
	}
}

func runMedia(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	return withClient(out, func(ctx context.Context, c *client.Client) error {
		files, err := c.Media(ctx)
		if err != nil {
			return out.Error("Failed to list media", err)
		}
		if out.jsonMode {
			return out.Print(api.MediaListDTO{Files: files})
		}
		if len(files) == 0 {
			fmt.Println("No shared files indexed")
			return nil
		}
		limit := nameBudget(stdoutWidth())
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tTYPE\tMODIFIED")
		for _, f := range files {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", truncateName(f.Name, limit), f.Size, f.MimeType, f.ModTime.Local().Format(time.DateTime))
		}
		return w.Flush()
	})
}
