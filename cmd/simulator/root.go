package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pedrobellotti/nstestes/internal/logging"
	"github.com/pedrobellotti/nstestes/scenario"
)

type rootOptions struct {
	logLevel      string
	logFormat     string
	logComponents string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "simulator",
		Short: "Packet network scenario simulator",
		Long: `Build packet-network scenarios (nodes, links, addresses, applications and
instrumentation) from the built-in catalog or from JSON, YAML or TOML files,
and run them on the reference discrete-event engine.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", envOr("LOG_FORMAT", "text"), "log format: text or json")
	flags.StringVar(&opts.logComponents, "log-components", os.Getenv("LOG_COMPONENTS"),
		"per-component levels, e.g. echo-client=debug,engine=warn")

	root.AddCommand(newRunCmd(opts), newDescribeCmd(opts), newListCmd())
	return root
}

func (o *rootOptions) logger(cmd *cobra.Command) logging.Logger {
	return logging.New(logging.Config{
		Level:      o.logLevel,
		Format:     o.logFormat,
		Components: logging.ParseComponents(o.logComponents),
		Output:     cmd.ErrOrStderr(),
	})
}

// loadDescription resolves the scenario named by a file argument or by
// --builtin. Exactly one must be given.
func loadDescription(args []string, builtin string) (scenario.Description, error) {
	switch {
	case len(args) == 1 && builtin != "":
		return scenario.Description{}, fmt.Errorf("give either a scenario file or --builtin, not both")
	case len(args) == 1:
		return scenario.LoadFile(args[0])
	case builtin != "":
		desc, ok := scenario.Lookup(builtin)
		if !ok {
			return scenario.Description{}, fmt.Errorf("unknown built-in scenario %q (see 'simulator list')", builtin)
		}
		return desc, nil
	default:
		return scenario.Description{}, fmt.Errorf("a scenario file or --builtin is required")
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, name := range scenario.Names() {
				desc, _ := scenario.Lookup(name)
				if _, err := fmt.Fprintf(out, "%-15s %s\n", name, desc.Summary); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
