// Command statectl backs up, restores, lists and verifies the remote
// infrastructure state of the development, staging and production environments.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edvin/statekeeper/internal/backend"
	"github.com/edvin/statekeeper/internal/config"
	"github.com/edvin/statekeeper/internal/confirm"
	"github.com/edvin/statekeeper/internal/core"
	"github.com/edvin/statekeeper/internal/logging"
	"github.com/edvin/statekeeper/internal/metrics"
	"github.com/edvin/statekeeper/internal/platform"
	"github.com/edvin/statekeeper/internal/vcs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cli holds flag values and the backends opened for one invocation.
type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath string
	logLevel   string
	output     string
	yes        bool

	cfg      *config.Config
	logger   zerolog.Logger
	backends *backend.Backends
	svc      *core.Services
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	c := &cli{in: in, out: out, errOut: errOut, logger: zerolog.Nop()}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	c.close()
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
	}
	return exitCode(err)
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "statectl",
		Short: "Back up, restore and verify remote infrastructure state",
		Long: `statectl captures the remote state of each environment into an archive,
indexes every capture in a catalog, restores earlier captures and verifies
that archived artifacts are still intact.

Environments: development (dev), staging (stage), production (prod).`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default $STATEKEEPER_CONFIG)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "table", "output format: table or json")

	root.AddCommand(
		c.backupCommand(),
		c.restoreCommand(),
		c.listCommand(),
		c.verifyAllCommand(),
		c.versionsCommand(),
	)
	return root
}

// open loads configuration and connects the backends.
func (c *cli) open(ctx context.Context) error {
	if c.output != "table" && c.output != "json" {
		return usageErrorf("unknown output format %q (want table or json)", c.output)
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if err := cfg.Validate(config.ComponentCLI); err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logging.NewCLILogger(cfg).With().Str("run_id", platform.NewRunID("run-")).Logger()

	detector := vcs.NewDetector(cfg.RepoDir)
	operator := detector.Provenance(ctx).Operator

	c.backends, err = backend.Open(ctx, cfg, operator, c.logger)
	if err != nil {
		return err
	}
	c.svc = core.NewServices(c.backends.Deps(c.confirmer(), detector, c.logger))
	return nil
}

// confirmer approves everything with --yes, prompts on a terminal otherwise.
// A non-terminal *os.File (a pipe) is refused so scripts must pass --yes.
func (c *cli) confirmer() confirm.Provider {
	if c.yes {
		return confirm.AutoApprove{}
	}
	if f, ok := c.in.(*os.File); ok {
		return confirm.NewTerminal(f, c.errOut)
	}
	return confirm.NewPrompt(c.in, c.errOut)
}

func (c *cli) close() {
	if c.backends != nil {
		c.backends.Close()
	}
	if c.cfg != nil && c.cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(c.cfg.MetricsTextfile); err != nil {
			c.logger.Warn().Err(err).Msg("metrics textfile not written")
		}
	}
}
