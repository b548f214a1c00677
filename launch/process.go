package launch

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/crillab/satfolio/channel"
	"github.com/crillab/satfolio/config"
	"github.com/crillab/satfolio/signals"
	"github.com/crillab/satfolio/worker"
)

// WorkerCommand is the hidden command running a contributor process.
const WorkerCommand = "worker"

// runProcesses runs the collector in this process and every contributor in a process of its own.
func runProcesses(reg *signals.Registry, p Params, input worker.Input) (int, error) {
	cfg := p.Config
	dir, err := os.MkdirTemp("", "satfolio-")
	if err != nil {
		return ExitFailure, errors.Wrap(err, "could not create working directory")
	}
	defer os.RemoveAll(dir)

	if input.Data != nil {
		path := filepath.Join(dir, "input.cnf")
		if err := os.WriteFile(path, input.Data, 0o600); err != nil {
			return ExitFailure, errors.Wrap(err, "could not store standard input")
		}
		input = worker.Input{Path: path}
	}
	cfgPath := filepath.Join(dir, "satfolio.toml")
	if err := writeConfig(cfgPath, cfg); err != nil {
		return ExitFailure, err
	}

	hub, err := channel.Listen(cfg.GroupAddr, cfg.Workers, p.Log)
	if err != nil {
		return ExitFailure, err
	}
	defer hub.Close()

	exe := p.Executable
	if exe == "" {
		if exe, err = os.Executable(); err != nil {
			return ExitFailure, errors.Wrap(err, "could not find executable")
		}
	}
	var g errgroup.Group
	for rank := 0; rank < channel.Hub(cfg.Workers); rank++ {
		cmd := contributorCommand(reg.Context(), exe, cfgPath, rank, hub.Addr().String(), input.Path, p)
		if err := cmd.Start(); err != nil {
			reg.Interrupt()
			_ = g.Wait()
			return ExitFailure, errors.Wrapf(err, "could not start worker %d", rank)
		}
		p.Log.Debugf("started worker %d as process %d", rank, cmd.Process.Pid)
		rank := rank
		g.Go(func() error {
			if err := cmd.Wait(); err != nil && reg.Context().Err() == nil {
				return errors.Wrapf(err, "worker %d", rank)
			}
			return nil
		})
	}

	code, err := newMember(cfg, hub, input, reg, p.Stdout, p.Log).collect(reg.Context(), p.Result, p.Stdout)
	// The result is reported: worker processes still searching are interrupted.
	reg.Interrupt()
	if werr := g.Wait(); werr != nil {
		p.Log.Warnf("a worker process failed: %v", werr)
	}
	return code, err
}

func contributorCommand(ctx context.Context, exe, cfgPath string, rank int, addr, input string, p Params) *exec.Cmd {
	args := []string{
		WorkerCommand,
		"--config", cfgPath,
		"--rank", strconv.Itoa(rank),
		"--group-addr", addr,
	}
	if p.Log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		args = append(args, "--debug")
	}
	args = append(args, input)
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = p.Config.FinalizeTimeout + p.Config.ReceiveTimeout
	return cmd
}

func writeConfig(path string, cfg config.Config) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not write worker configuration")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "could not write worker configuration")
		}
	}()
	return errors.Wrap(toml.NewEncoder(f).Encode(cfg), "could not encode worker configuration")
}

// Contributor describes a contributor process.
type Contributor struct {
	Config    config.Config
	Rank      int
	GroupAddr string
	Input     string
	Stdout    io.Writer
	Log       *logrus.Entry
}

// RunContributor joins the group, solves the problem under the assumptions of its rank,
// sends its result to the collector and waits to be released.
func RunContributor(ctx context.Context, c Contributor) error {
	cfg := c.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	if c.Rank < 0 || c.Rank >= channel.Hub(cfg.Workers) {
		return &config.ConfigurationError{Field: "rank", Reason: "must be the rank of a contributor, between 0 and workers-2"}
	}
	if c.Stdout == nil {
		c.Stdout = io.Discard
	}
	limitMemory(cfg, c.Log)

	reg := signals.NewRegistry(ctx, c.Stdout)
	reg.Start()
	defer reg.Stop()

	dctx, cancel := context.WithTimeout(reg.Context(), cfg.ReceiveTimeout)
	defer cancel()
	t, err := channel.Dial(dctx, c.GroupAddr, c.Rank, cfg.Workers, c.Log)
	if err != nil {
		return err
	}
	defer t.Close()
	return newMember(cfg, t, worker.Input{Path: c.Input}, reg, c.Stdout, c.Log).contribute(reg.Context())
}
