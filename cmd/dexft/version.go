package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dexft/dexft/internal/client"
	dexftversion "github.com/dexft/dexft/internal/version"
	"github.com/spf13/cobra"
)

const versionProbeTimeout = 3 * time.Second

// versionReport is the --json form of `dexft version`. Daemon is nil when
// the daemon could not be reached.
type versionReport struct {
	Client      string  `json:"client"`
	Daemon      *string `json:"daemon"`
	DaemonError string  `json:"daemon_error,omitempty"`
	Mismatch    bool    `json:"mismatch,omitempty"`
	Warning     string  `json:"warning,omitempty"`
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and daemon versions",
		RunE:  runVersion,
	}
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	report := probeVersions()

	if out.jsonMode {
		return out.Print(report)
	}

	fmt.Printf("Client: %s\n", dexftversion.FormatVersion(report.Client))
	switch {
	case report.Daemon == nil:
		fmt.Printf("Daemon: unavailable (%s)\n", report.DaemonError)
	case *report.Daemon == "unknown":
		fmt.Println("Daemon: running (version unknown)")
	default:
		fmt.Printf("Daemon: %s\n", dexftversion.FormatVersion(*report.Daemon))
	}
	if report.Warning != "" {
		fmt.Println(report.Warning)
	}
	return nil
}

func probeVersions() versionReport {
	report := versionReport{Client: dexftversion.String()}

	c, err := client.New()
	if err != nil {
		report.DaemonError = err.Error()
		return report
	}
	ctx, cancel := context.WithTimeout(context.Background(), versionProbeTimeout)
	defer cancel()
	status, err := c.Status(ctx)
	if err != nil {
		report.DaemonError = err.Error()
		return report
	}

	daemon := status.Version
	if daemon == "" {
		daemon = "unknown"
	}
	report.Daemon = &daemon
	if w := dexftversion.CheckVersionMismatch(status.Version); w != "" {
		report.Mismatch = true
		report.Warning = w
	}
	return report
}
