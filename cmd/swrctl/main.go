// Command swrctl inspects and maintains the records of the cache entries
// described by a swr configuration file.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/agentuity/go-swr/config"
	"github.com/agentuity/go-swr/env"
	"github.com/agentuity/go-swr/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const envOTLPURL = "SWR_OTLP_URL"

// newRootCmd returns the command tree and a function flushing telemetry,
// which must run after Execute returns.
func newRootCmd() (*cobra.Command, func()) {
	var (
		shutdown telemetry.ShutdownFunc
		span     trace.Span
	)
	root := &cobra.Command{
		Use:           "swrctl",
		Short:         "Inspect and purge stale-while-revalidate cache records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if otlpURL := env.FlagOrEnv(cmd, "otlp-url", envOTLPURL, ""); otlpURL != "" {
				token, _ := cmd.Flags().GetString("otlp-token")
				fn, err := telemetry.New(cmd.Context(), otlpURL, token, "swrctl")
				if err != nil {
					return err
				}
				shutdown = fn
			}
			ctx, s := otel.Tracer("github.com/agentuity/go-swr/cmd/swrctl").Start(cmd.Context(), "swrctl "+cmd.Name())
			span = s
			cmd.SetContext(ctx)
			return nil
		},
	}
	root.PersistentFlags().String("config", "", "Path to the configuration file (env: "+env.EnvConfig+")")
	root.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	root.PersistentFlags().String("otlp-url", "", "OTLP/HTTP collector to send traces to (env: "+envOTLPURL+")")
	root.PersistentFlags().String("otlp-token", "", "Bearer token for the OTLP collector")
	root.AddCommand(newInspectCmd(), newPurgeCmd(), newDeleteCmd())
	return root, func() {
		if span != nil {
			span.End()
		}
		if shutdown != nil {
			shutdown()
		}
	}
}

// openRuntime loads the configuration named by the flags and opens its backends.
func openRuntime(cmd *cobra.Command) (*config.Runtime, error) {
	path := env.FlagOrEnv(cmd, "config", env.EnvConfig, "swr.yaml")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return config.Build(cmd.Context(), cfg, env.NewLogger(cmd))
}

func main() {
	root, finish := newRootCmd()
	err := root.ExecuteContext(context.Background())
	finish()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
