package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"time"

	"github.com/dexft/dexft/internal/client"
	dexftversion "github.com/dexft/dexft/internal/version"
	"github.com/spf13/cobra"
)

const requestTimeout = 15 * time.Second

// OutputFormatter writes command results either as indented JSON
// (--json) or as plain text.
type OutputFormatter struct {
	jsonMode bool
}

func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

func writeIndented(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}

// Print writes data as JSON. Plain strings are printed verbatim outside
// JSON mode.
func (f *OutputFormatter) Print(data any) error {
	if s, ok := data.(string); ok && !f.jsonMode {
		fmt.Println(s)
		return nil
	}
	return writeIndented(os.Stdout, data)
}

// Success reports message, merged with data in JSON mode.
func (f *OutputFormatter) Success(message string, data map[string]any) error {
	if !f.jsonMode {
		fmt.Println(message)
		return nil
	}
	payload := map[string]any{"success": true, "message": message}
	maps.Copy(payload, data)
	return f.Print(payload)
}

// Error reports message and err on stderr and returns them as one error
// for cobra's exit status.
func (f *OutputFormatter) Error(message string, err error) error {
	wrapped := errors.New(message)
	if err != nil {
		wrapped = fmt.Errorf("%s: %w", message, err)
	}

	if f.jsonMode {
		payload := map[string]any{"success": false, "error": message}
		if err != nil {
			payload["details"] = err.Error()
		}
		writeIndented(os.Stderr, payload)
	} else {
		fmt.Fprintln(os.Stderr, wrapped)
	}
	return wrapped
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dexft",
		Short:         "Control the dexft file-transfer daemon",
		Version:       dexftversion.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	rootCmd.AddCommand(
		newToggleCommand("on", "Start serving the shared directory", true),
		newToggleCommand("off", "Stop serving the shared directory", false),
		newStatusCommand(),
		newAddressCommand(),
		newMediaCommand(),
		newWatchCommand(),
		newVersionCommand(),
		newDaemonCommand(),
	)
	return rootCmd
}

// withClient runs fn against the default instance with a bounded context.
func withClient(out *OutputFormatter, fn func(ctx context.Context, c *client.Client) error) error {
	c, err := client.New()
	if err != nil {
		return out.Error("Failed to configure daemon client", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return fn(ctx, c)
}
