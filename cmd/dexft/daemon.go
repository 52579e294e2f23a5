package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dexft/dexft/internal/client"
	"github.com/dexft/dexft/internal/config"
	"github.com/dexft/dexft/internal/procutil"
	daemonruntime "github.com/dexft/dexft/internal/runtime"
	"github.com/spf13/cobra"
)

func newDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the dexftd process",
	}
	daemonStopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon gracefully",
		Args:  cobra.NoArgs,
		RunE:  daemonStop,
	}
	daemonCmd.AddCommand(daemonStopCmd)
	return daemonCmd
}

// daemonStop asks the daemon to exit through the control API and falls back
// to signalling the PID recorded in the instance lock file.
func daemonStop(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)

	var apiErr error
	c, err := client.New()
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		apiErr = c.ShutdownDaemon(ctx)
		cancel()
		if apiErr == nil {
			return out.Success("Shutdown request sent to daemon", map[string]any{
				"method": "api",
			})
		}
	} else {
		apiErr = err
	}

	paths := config.GetInstancePaths(config.DefaultInstance)
	pid, err := daemonruntime.ReadPIDFile(paths.Lock)
	if err != nil {
		if errors.Is(apiErr, client.ErrDaemonUnreachable) {
			return out.Error("Daemon is not running", nil)
		}
		return out.Error("Failed to stop daemon via API and local fallback", fmt.Errorf("%v; %w", apiErr, err))
	}
	if !procutil.IsProcessAlive(pid) {
		return out.Error("Daemon is not running", fmt.Errorf("stale pid %d", pid))
	}

	if err := procutil.TerminateByPID(pid); err != nil {
		return out.Error("Failed to signal daemon", err)
	}

	return out.Success("Sent termination signal to daemon", map[string]any{
		"pid":          pid,
		"method":       "signal",
		"api_fallback": errors.Is(apiErr, client.ErrShutdownUnavailable),
	})
}
