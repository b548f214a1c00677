package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/crillab/satfolio/config"
	"github.com/crillab/satfolio/launch"
)

type globalFlags struct {
	config  string
	verbose bool
	quiet   bool
	debug   bool
}

func main() {
	debug.SetGCPercent(300)
	os.Exit(newRootCmd().execute())
}

type rootCmd struct {
	*cobra.Command
	code int
}

func (r *rootCmd) execute() int {
	if err := r.Execute(); err != nil {
		return launch.ExitFailure
	}
	return r.code
}

func newRootCmd() *rootCmd {
	var g globalFlags
	root := &rootCmd{Command: &cobra.Command{
		Use:           "satfolio",
		Short:         "Portfolio SAT solving",
		Long:          "satfolio runs several SAT engines on the same DIMACS problem, each under its own assumptions, and reports the verdict of the group.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "TOML configuration file")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "print worker statistics and debug logs")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "only log warnings and errors")
	pf.BoolVar(&g.debug, "debug", false, "enable debug logs")

	root.AddCommand(newSolveCmd(root, &g), newWorkerCmd(root, &g))
	return root
}

func newSolveCmd(root *rootCmd, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve [file.cnf|-] [result-file]",
		Short: "Solve a DIMACS problem with a portfolio of workers",
		Long: `Solve a DIMACS problem, possibly gzipped, with a portfolio of workers.
The problem is read from the standard input when no file, or "-", is given.
The exit code is 10 if the problem is satisfiable, 20 if it is unsatisfiable and 0 otherwise.`,
		Args: cobra.MaximumNArgs(2),
	}
	flags := config.BindFlags(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		log := config.NewLogger(os.Stderr, g.verbose || g.debug, g.quiet)
		cfg, err := flags.Resolve(g.config)
		if err != nil {
			log.Error(err)
			return err
		}
		cfg.Verbose = cfg.Verbose || g.verbose
		var input, result string
		if len(args) > 0 {
			input = args[0]
		}
		if len(args) > 1 {
			result = args[1]
		}
		if cfg.Verbose {
			fmt.Printf("c solving %s with %d workers\n", inputName(input), cfg.Workers)
		}
		code, err := launch.Run(context.Background(), launch.Params{
			Config: cfg,
			Input:  input,
			Stdin:  os.Stdin,
			Result: result,
			Stdout: os.Stdout,
			Stderr: os.Stderr,
			Log:    logrus.NewEntry(log),
		})
		root.code = code
		if err != nil {
			log.Error(err)
		}
		return err
	}
	return cmd
}

func inputName(input string) string {
	if input == "" || input == "-" {
		return "standard input"
	}
	return input
}

func newWorkerCmd(root *rootCmd, g *globalFlags) *cobra.Command {
	var (
		rank int
		addr string
	)
	cmd := &cobra.Command{
		Use:    launch.WorkerCommand + " file.cnf",
		Short:  "Run a contributor of a portfolio",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := config.NewLogger(os.Stderr, g.debug, g.quiet)
			cfg, err := config.Load(g.config)
			if err != nil {
				log.Error(err)
				return err
			}
			err = launch.RunContributor(context.Background(), launch.Contributor{
				Config:    cfg,
				Rank:      rank,
				GroupAddr: addr,
				Input:     args[0],
				Stdout:    os.Stdout,
				Log:       logrus.NewEntry(log).WithField("pid", os.Getpid()),
			})
			var cerr *config.ConfigurationError
			if errors.As(err, &cerr) {
				log.Error(err)
				return err
			}
			if err != nil {
				// The collector reports the group verdict without this worker.
				log.Warnf("worker %d: %v", rank, err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rank, "rank", -1, "rank of this worker in the group")
	cmd.Flags().StringVar(&addr, "group-addr", "", "address of the collector")
	return cmd
}
