// Command haspeede runs hyperparameter searches and final fits for the
// hate speech, stereotype and nominal utterance experiments.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/haspeede/config"
	"github.com/YuminosukeSato/haspeede/core/parallel"
	"github.com/YuminosukeSato/haspeede/core/repro"
	"github.com/YuminosukeSato/haspeede/experiment"
	"github.com/YuminosukeSato/haspeede/pkg/log"
	"github.com/YuminosukeSato/haspeede/store"
)

// globals are the persistent flags of the root command.
type globals struct {
	configPath string
	task       string
	dataDir    string
	logLevel   string
	logFormat  string
	workers    int
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "haspeede",
		Short:         "fine-tune span and sequence classifiers with grid search and early stopping",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	flags := root.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "experiment file (YAML); overrides --task")
	flags.StringVarP(&g.task, "task", "t", config.TaskItalianHS, fmt.Sprintf("built-in experiment, one of %v", config.Tasks()))
	flags.StringVar(&g.dataDir, "data-dir", ".", "directory relative corpus paths are resolved against")
	flags.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error; defaults to the experiment's log_level")
	flags.StringVar(&g.logFormat, "log-format", "console", "console, json or cloud")
	flags.IntVar(&g.workers, "workers", 0, "goroutines per encoder batch; 0 uses one per CPU")

	root.AddCommand(
		configCmd(g),
		searchCmd(g),
		trainCmd(g),
		evaluateCmd(g),
		runsCmd(g),
		lengthsCmd(g),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "haspeede:", err)
		os.Exit(1)
	}
}

// experimentFile reads --config, or the defaults of --task when no file is
// given.
func (g *globals) experimentFile() (*config.Experiment, error) {
	if g.configPath != "" {
		return config.Load(g.configPath)
	}
	return config.Default(g.task)
}

// newLogger builds the process logger. Warnings raised through pkg/errors
// are routed to it for the zerolog formats.
func (g *globals) newLogger(w io.Writer, exp *config.Experiment) (log.Logger, error) {
	levelName := g.logLevel
	if levelName == "" {
		levelName = exp.LogLevel
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	switch g.logFormat {
	case "console":
		l := log.NewConsoleLogger(w, level)
		l.InstallWarnHook()
		return l, nil
	case "json":
		l := log.NewZerologLogger(w, level)
		l.InstallWarnHook()
		return l, nil
	case "cloud":
		if err := log.SetupLogger(w, levelName); err != nil {
			return nil, err
		}
		return log.NewSlogLogger(slog.Default()), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", g.logFormat)
	}
}

// session is what every experiment command starts from.
type session struct {
	exp    *config.Experiment
	setup  *experiment.Setup
	logger log.Logger
	device repro.Device
}

func (g *globals) open(cmd *cobra.Command, opts ...experiment.Option) (*session, error) {
	exp, err := g.experimentFile()
	if err != nil {
		return nil, err
	}
	logger, err := g.newLogger(cmd.ErrOrStderr(), exp)
	if err != nil {
		return nil, err
	}
	parallel.SetMaxWorkers(g.workers)
	device, err := repro.ParseDevice(exp.Device)
	if err != nil {
		return nil, err
	}
	opts = append([]experiment.Option{experiment.WithLogger(logger), experiment.WithDataDir(g.dataDir)}, opts...)
	setup, err := experiment.New(exp, opts...)
	if err != nil {
		return nil, err
	}
	return &session{exp: exp, setup: setup, logger: logger, device: device}, nil
}

// output returns name inside the experiment's output directory, creating
// the directory.
func (s *session) output(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	dir := filepath.Join(s.exp.Output.Dir, s.exp.Task)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// openStore opens the run store inside the output directory.
func (s *session) openStore() (*store.Store, error) {
	path, err := s.output(s.exp.Output.Store)
	if err != nil {
		return nil, err
	}
	return store.Open(path)
}
