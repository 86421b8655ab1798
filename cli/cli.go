// Package cli is the goster-mission command line: the HTTP service, one-shot
// uploads, dry-run compilation, upload history and the vehicle simulator.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/nhirsama/Goster-Mission/src/config"
	"github.com/nhirsama/Goster-Mission/src/logging"
	"github.com/spf13/pflag"
)

const appName = "goster-mission"

// env is what every command runs with
type env struct {
	cfg    *config.Config
	log    *logging.Logger
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	usage string
	// flags adds the command's own flags; may be nil
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, e *env, fs *pflag.FlagSet) error
}

var commands = map[string]command{
	"serve": {
		usage: "run the HTTP upload API",
		run:   runServe,
	},
	"upload": {
		usage: "upload a flight plan file to a vehicle",
		flags: uploadFlags,
		run:   runUpload,
	},
	"compile": {
		usage: "print the mission items a flight plan compiles to",
		flags: compileFlags,
		run:   runCompile,
	},
	"history": {
		usage: "list recorded uploads",
		flags: historyFlags,
		run:   runHistory,
	},
	"simulate": {
		usage: "run a simulated MAVLink vehicle",
		flags: simulateFlags,
		run:   runSimulate,
	},
}

// errUsage is returned after usage has been printed
var errUsage = errors.New("usage")

// Run executes the command line and exits the process with its status
func Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

// Execute runs one command. args excludes the program name.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(stderr)
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printUsage(stderr)
		return errUsage
	}

	fs := pflag.NewFlagSet(appName+" "+args[0], pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errUsage
		}
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{
		Name:   appName,
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
		JSON:   cfg.Log.JSON,
		Output: stderr,
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer log.Close()
	if cfg.File != "" {
		log.Debug("loaded configuration", "file", cfg.File)
	}

	return cmd.run(ctx, &env{cfg: cfg, log: log, stdout: stdout, stderr: stderr}, fs)
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "usage: %s <command> [flags]\n\ncommands:\n", appName)
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].usage)
	}
	fmt.Fprintf(w, "\nrun '%s <command> --help' for the command's flags\n", appName)
}
