package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dexft/dexft/internal/config"
	configstore "github.com/dexft/dexft/internal/config/store"
	"github.com/dexft/dexft/internal/daemon"
	dexftversion "github.com/dexft/dexft/internal/version"
	"github.com/spf13/cobra"
)

type daemonFlags struct {
	configPath string
	importOnly bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags daemonFlags
	cmd := &cobra.Command{
		Use:           "dexftd",
		Short:         "dexft daemon - serves a shared directory to the local network",
		Version:       dexftversion.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.importOnly {
				return runImportOnly(flags.configPath)
			}
			return runDaemon(flags.configPath)
		},
	}
	cmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	cmd.Flags().StringVar(&flags.configPath, "config", "", "YAML file whose settings are imported into the store before start")
	cmd.Flags().BoolVar(&flags.importOnly, "import-only", false, "import --config and exit without starting the daemon")
	return cmd
}

func runImportOnly(configPath string) error {
	if configPath == "" {
		return errors.New("--import-only requires --config")
	}
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	return store.Close()
}

// openStore opens the default instance store and applies configPath, if set.
func openStore(configPath string) (*configstore.Store, error) {
	store, err := configstore.Open(configstore.Options{
		InstanceName: config.DefaultInstance,
		ProfileName:  config.DefaultProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open config store: %w", err)
	}
	if configPath == "" {
		return store, nil
	}
	n, err := importSettingsFile(context.Background(), store, configPath)
	if err != nil {
		store.Close()
		return nil, err
	}
	log.Printf("[Config] imported %d settings from %s", n, configPath)
	return store, nil
}

func runDaemon(configPath string) error {
	if err := setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}
	if daemon.IsRunning(config.DefaultInstance) {
		return errors.New("daemon is already running")
	}

	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	d, err := daemon.New(daemon.Options{Store: store})
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- d.Start() }()
	log.Printf("dexft daemon started (PID: %d, socket: %s)", os.Getpid(), config.GetInstancePaths(config.DefaultInstance).Socket)

	select {
	case <-ctx.Done():
		log.Printf("Signal received, shutting down...")
		if err := d.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
		err = <-done
	case err = <-done:
	}
	if err != nil {
		log.Printf("Daemon error: %v", err)
		return err
	}
	log.Println("Daemon stopped")
	return nil
}

// setupLogging tees the standard logger into logs/daemon.log.
func setupLogging() error {
	paths, err := config.EnsureInstanceDirs(config.DefaultInstance)
	if err != nil {
		return fmt.Errorf("initialise instance directories: %w", err)
	}
	logPath := filepath.Join(paths.Logs, "daemon.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("=== dexft Daemon Starting (PID: %d) log: %s ===", os.Getpid(), logPath)
	return nil
}
