// Traceboot bootstraps OpenTelemetry tracing for a host service.
//
// The serve command initializes tracing, mounts the host HTTP (and
// optionally gRPC) server, and shuts both down on SIGINT or SIGTERM.
//
// Configuration is layered: defaults, an optional YAML file, then the
// environment. See pkg/config for details.
//
// Usage:
//
//	# Start with defaults, exporting to http://localhost:4318/v1/traces
//	traceboot serve
//
//	# Export over gRPC and bootstrap after the server is up
//	TRACEBOOT_TRACING_PROTOCOL=grpc OTEL_EXPORTER_OTLP_ENDPOINT=collector:4317 \
//	    traceboot serve --timing deferred
//
//	# Show the resolved tracing plan
//	traceboot check
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/traceboot/internal/instrument"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	instrument.Default.InstallTransport()
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "traceboot",
		Short: "Bootstrap OpenTelemetry tracing for a host service",
		Long: `traceboot initializes distributed tracing for a service, serves the host
endpoints, and flushes pending spans on shutdown.

Tracing problems never stop the host: a failed bootstrap is logged once and
the service runs untraced.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "path to YAML config file")

	root.AddCommand(newServeCmd(opts, nil))
	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newVersionCmd())

	instrument.Default.WrapCommand(root)
	return root
}

// defaultConfigPath honours TRACEBOOT_CONFIG, falling back to ./traceboot.yaml.
func defaultConfigPath() string {
	if p := os.Getenv("TRACEBOOT_CONFIG"); p != "" {
		return p
	}
	return "traceboot.yaml"
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "traceboot by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
