// Package main implements the CLI driver for the domain_membership compiler.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/715d/domainmembership/internal/config"
	"github.com/715d/domainmembership/pkg/compiler"
	"github.com/715d/domainmembership/pkg/facts"
	"github.com/715d/domainmembership/pkg/lint"
	"github.com/715d/domainmembership/pkg/membership"
)

const (
	exitFailed = 1
	exitError  = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var (
	cfg        *config.Config
	configFile string
	registry   *prometheus.Registry
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "domainmembership",
		Short: "Compile and verify the domain_membership class",
		Long: `domainmembership compiles the domain_membership class into a catalog for
every supported operating system and verifies that it compiles with all
dependencies resolved.

Parameters are read from a YAML file and may be overridden with flags or
DOMAIN_MEMBERSHIP_* environment variables.`,
		Example: `  domainmembership compile                       # Compile params.yaml on every supported OS
  domainmembership check --os 'windows-2012*'    # Verify a subset of the matrix
  domainmembership lint -p node.yaml             # Report insecure parameters
  domainmembership os                            # List supported operating systems
  DOMAIN_MEMBERSHIP_PASSWORD=... domainmembership compile --json > catalogs.json`,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	// Set custom version template to include build info.
	rootCmd.SetVersionTemplate(fmt.Sprintf("domainmembership version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	// Define flags.
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Configuration file (default ./"+config.DefaultName+".yaml)")
	pf.BoolP("verbose", "v", false, "Enable verbose output")
	pf.Bool("json", false, "Output in JSON format")
	pf.Bool("profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")
	pf.StringP("params-file", "p", "params.yaml", "Class parameter file")
	pf.String("matrix-file", "", "Supported operating system matrix (default built-in)")
	pf.String("facts-file", "", "Facts merged over the facts of every operating system")
	pf.String("os", "", "Only operating systems matching this glob, e.g. 'windows-2019*'")
	pf.IntP("jobs", "j", 1, "Number of concurrent compilations")
	pf.String("metrics-file", "", "Write compilation metrics in the Prometheus text format to this file")
	pf.String("environment", "production", "Catalog environment")
	pf.String("catalog-version", "", "Version stamped on compiled catalogs")

	pf.String("domain", "", "Override the domain parameter")
	pf.String("username", "", "Override the username parameter")
	pf.String("password", "", "Override the password parameter")
	pf.Bool("secure-password", false, "Override the secure_password parameter")
	pf.String("machine-ou", "", "Override the machine_ou parameter")
	pf.Bool("resetpw", true, "Override the resetpw parameter")
	pf.Bool("reboot", true, "Override the reboot parameter")
	pf.String("join-options", "", "Override the join_options parameter")
	pf.String("user-domain", "", "Override the user_domain parameter")

	rootCmd.AddCommand(newCompileCmd(), newCheckCmd(), newLintCmd(), newOSCmd())
	return rootCmd
}

// loadParams reads the parameter file, its suppression comments and the
// configured overrides. A missing file is allowed when overrides are set.
func loadParams() (membership.Params, *lint.Checker, error) {
	sc := lint.NewChecker()
	p, doc, err := membership.LoadParams(cfg.ParamsFile)
	switch {
	case errors.Is(err, fs.ErrNotExist) && len(cfg.Overrides) > 0:
		slog.Debug("params file not found, using overrides only", "file", cfg.ParamsFile)
		p = membership.Defaults()
	case err != nil:
		return p, nil, err
	default:
		if err := sc.Load(doc); err != nil {
			return p, nil, fmt.Errorf("loading suppressions: %w", err)
		}
	}

	if err := cfg.ApplyOverrides(&p); err != nil {
		return p, nil, err
	}
	slog.Info("loaded params", "file", cfg.ParamsFile, "params", p)
	return p, sc, nil
}

func loadContexts() ([]facts.Context, error) {
	m, err := facts.LoadMatrix(cfg.MatrixFile)
	if err != nil {
		return nil, err
	}
	contexts, err := facts.OnSupportedOS(m, cfg.OS)
	if err != nil {
		return nil, err
	}
	if len(contexts) == 0 {
		return nil, fmt.Errorf("no supported operating system matches %q", cfg.OS)
	}
	if cfg.FactsFile != "" {
		overrides, err := facts.LoadFile(cfg.FactsFile)
		if err != nil {
			return nil, err
		}
		for i := range contexts {
			contexts[i].Facts = contexts[i].Facts.Merge(overrides)
		}
	}
	slog.Info("loaded supported operating systems", "num", len(contexts))
	return contexts, nil
}

func newCompiler() *compiler.Compiler {
	registry = prometheus.NewRegistry()
	return compiler.New(compiler.Options{
		Metrics:     compiler.NewMetrics(registry),
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
}

func writeMetrics() error {
	if cfg.MetricsFile == "" || registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(cfg.MetricsFile, registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	slog.Info("metrics written", "file", cfg.MetricsFile)
	return nil
}

var cpuProfile *os.File

func setup(cmd *cobra.Command, _ []string) error {
	v := config.New()
	if err := config.BindFlags(v, cmd); err != nil {
		return errWithCode(err, exitError)
	}
	var err error
	cfg, err = config.Load(v, configFile)
	if err != nil {
		return errWithCode(err, exitError)
	}

	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
		}
		logger := slog.New(handler)
		slog.SetDefault(logger)
	}

	if !cfg.Profile {
		return nil
	}

	// Start CPU profiling.
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		cpuProfile = nil
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if cfg == nil || !cfg.Profile || cpuProfile == nil {
		return nil
	}

	// Stop CPU profiling and close file.
	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	// Write memory profile.
	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error {
	return e.err
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
