package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pedrobellotti/nstestes/engine"
	"github.com/pedrobellotti/nstestes/internal/desim"
	"github.com/pedrobellotti/nstestes/internal/logging"
	"github.com/pedrobellotti/nstestes/internal/observability"
	"github.com/pedrobellotti/nstestes/scenario"
	"github.com/pedrobellotti/nstestes/traffic"
)

type runOptions struct {
	*rootOptions

	builtin     string
	outDir      string
	stop        time.Duration
	maxTraces   int
	metricsFile string
	metricsAddr string
	tracing     bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "run [scenario-file]",
		Short: "Build a scenario and run it",
		Long: `Build a scenario and run it on the reference engine. Capture files, the
visualization trace and the flow report are written to --out.`,
		Example: `  simulator run --builtin lan-wifi-echo --out results
  simulator run examples/scenarios/p2p-chain.yaml --metrics-file run.prom`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.builtin, "builtin", "b", "", "run a built-in scenario instead of a file")
	flags.StringVarP(&opts.outDir, "out", "o", ".", "directory for capture, trace and report files")
	flags.DurationVar(&opts.stop, "stop", 0, "override the scenario stop time")
	flags.IntVar(&opts.maxTraces, "max-trace-records", desim.DefaultMaxTraceRecords, "cap on packet records in the visualization trace")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after the run")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address until interrupted")
	flags.BoolVar(&opts.tracing, "tracing", false, "enable OpenTelemetry tracing (SCENARIO_TRACING_* configure it)")
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := o.logger(cmd)
	out := cmd.OutOrStdout()

	desc, err := loadDescription(args, o.builtin)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("stop") {
		desc.Stop = o.stop
	}

	tracingCfg := observability.TracingConfigFromEnv()
	if o.tracing {
		tracingCfg.Enabled = true
	}
	tracingCfg.Writer = cmd.ErrOrStderr()
	shutdown, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	reg := prometheus.NewRegistry()
	buildMetrics, err := observability.NewBuildCollector(reg)
	if err != nil {
		return err
	}
	runMetrics, err := observability.NewRunCollector(reg)
	if err != nil {
		return err
	}

	s, err := scenario.Build(ctx, desc,
		scenario.WithLogger(log),
		scenario.WithMetrics(buildMetrics),
		scenario.WithRunMetrics(runMetrics),
	)
	if err != nil {
		o.writeMetrics(ctx, buildMetrics, log)
		return err
	}

	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	eng := desim.New(
		desim.WithLogger(log),
		desim.WithOutputDir(o.outDir),
		desim.WithMaxTraceRecords(o.maxTraces),
	)
	res, err := s.Run(ctx, eng)
	if res != nil {
		if werr := printResults(out, s, res); werr != nil {
			err = errors.Join(err, werr)
		}
	}
	o.writeMetrics(ctx, buildMetrics, log)
	if err != nil {
		return err
	}

	if o.metricsAddr != "" {
		return serveMetrics(ctx, o.metricsAddr, buildMetrics.Handler(), log)
	}
	return nil
}

func (o *runOptions) writeMetrics(ctx context.Context, c *observability.BuildCollector, log logging.Logger) {
	if o.metricsFile == "" {
		return
	}
	if err := c.WriteTextfile(o.metricsFile); err != nil {
		log.Warn(ctx, "failed to write metrics textfile", logging.String("path", o.metricsFile), logging.Err(err))
		return
	}
	log.Info(ctx, "metrics written", logging.String("path", o.metricsFile))
}

// serveMetrics exposes /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, handler http.Handler, log logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	log.Info(ctx, "serving Prometheus metrics, interrupt to exit", logging.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printResults(w io.Writer, s *scenario.Scenario, res *engine.Results) error {
	if _, err := fmt.Fprintf(w, "scenario %s stopped at %v after %d events\n",
		s.Description.Name, res.StoppedAt, res.EventsProcessed); err != nil {
		return err
	}
	for _, role := range s.Traffic.Roles() {
		c, ok := role.(*traffic.EchoClient)
		if !ok {
			continue
		}
		st := res.App(c.ID)
		if _, err := fmt.Fprintf(w, "%s (%s -> %s): %d requests, %d replies, mean reply delay %v\n",
			c.ID, c.NodeID, c.Remote.NodeID, st.RequestsSent, st.RepliesReceived, st.Flow.MeanDelay()); err != nil {
			return err
		}
	}
	if err := s.WriteSinkSummary(w); err != nil {
		return err
	}
	if len(res.Flows) > 0 {
		total := res.FlowTotals()
		if _, err := fmt.Fprintf(w, "%d flows: %d bytes sent, %d bytes received, mean delay %v\n",
			len(res.Flows), total.TxBytes, total.RxBytes, total.MeanDelay()); err != nil {
			return err
		}
	}
	for _, f := range res.Files {
		if _, err := fmt.Fprintf(w, "wrote %s\n", f); err != nil {
			return err
		}
	}
	return nil
}
