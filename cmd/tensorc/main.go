// Command tensorc compiles tensor equation models into evaluation programs
// and runs them.
//
//	tensorc compile heat.yaml -o heat.tnsr
//	tensorc run heat.tnsr --points 100000 --constant kappa=0.1
//	tensorc perf heat.yaml
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sbl8/tensorc/logging"
)

// version is set at link time.
var version = "dev"

type globalFlags struct {
	logLevel  string
	logFormat string
	trace     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		g        globalFlags
		shutdown func(context.Context) error
	)
	root := &cobra.Command{
		Use:          "tensorc",
		Short:        "Tensor equation compiler",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(g.logLevel)
			if err != nil {
				return err
			}
			format, err := logging.ParseFormat(g.logFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logging.New(logging.Config{Level: level, Format: format, Service: "tensorc"}))
			if g.trace {
				shutdown, err = installTracer(cmd.ErrOrStderr())
				return err
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if shutdown == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return errors.Wrap(shutdown(ctx), "flush traces")
		},
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format: text or json")
	root.PersistentFlags().BoolVar(&g.trace, "trace", false, "print OpenTelemetry spans to stderr")

	root.AddCommand(newCompileCmd(), newRunCmd(), newPerfCmd(), newVersionCmd())
	return root
}

// installTracer routes spans to a stdout exporter writing to w.
func installTracer(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, errors.Wrap(err, "create trace exporter")
	}
	res := resource.NewWithAttributes("",
		attribute.String("service.name", "tensorc"),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
