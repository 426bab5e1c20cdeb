// dittostash manages a local store of downloaded resources.
//
// Usage:
//
//	dittostash <command> [flags]
//
// Commands that open the store directly (lookup, register, purge, domains,
// reconcile) cannot run while `dittostash serve` holds the badger metadata
// store; use the HTTP API instead.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/marmos91/dittostash/internal/logger"
	"github.com/marmos91/dittostash/pkg/config"
	"github.com/spf13/pflag"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"init", "write a default configuration file", runInit},
	{"serve", "run the resource manager and its HTTP API", runServe},
	{"lookup", "find a resource by key", runLookup},
	{"register", "move a downloaded file into managed storage", runRegister},
	{"purge", "remove one resource and its file", runPurge},
	{"domains", "show domains and their usage", runDomains},
	{"reconcile", "repair metadata against the storage tree", runReconcile},
	{"version", "print the version", runVersion},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}
	if args[0] == "--version" {
		return runVersion(nil)
	}

	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(args[1:])
		}
	}
	printUsage()
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage() {
	var b strings.Builder
	b.WriteString("DittoStash - managed resource store\n\nUsage:\n  dittostash <command> [flags]\n\nCommands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(&b, "  %-10s %s\n", cmd.name, cmd.summary)
	}
	b.WriteString("\nRun 'dittostash <command> --help' for command flags.\n")
	fmt.Fprint(os.Stderr, b.String())
}

// newFlagSet creates the flag set of a command with the shared --config flag.
func newFlagSet(name string, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(configPath, "config", "c", "", "path to the configuration file (default: "+config.GetDefaultConfigPath()+")")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dittostash %s [flags]\n\nFlags:\n%s", name, fs.FlagUsages())
	}
	return fs
}

// loadConfig loads the configuration and applies its logging section.
//
// Commands that print results to stdout pass interactive=true, which moves
// stdout logging to stderr so the output stays parseable.
func loadConfig(path string, interactive bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	output := cfg.Logging.Output
	if interactive && strings.EqualFold(output, "stdout") {
		output = "stderr"
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	// An unusable output falls back to stdout with a warning.
	_ = logger.SetOutput(logger.OutputConfig{
		Output:     output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	return cfg, nil
}

func runVersion(_ []string) error {
	fmt.Printf("dittostash %s\n", version)
	return nil
}

func runInit(args []string) error {
	var configPath string
	var force bool
	fs := newFlagSet("init", &configPath)
	fs.BoolVarP(&force, "force", "f", false, "overwrite an existing configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := configPath
	if path == "" {
		var err error
		if path, err = config.InitConfig(force); err != nil {
			return err
		}
	} else if err := config.InitConfigToPath(path, force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}
