package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/domainmembership/pkg/catalog"
	"github.com/715d/domainmembership/pkg/compiler"
	"github.com/715d/domainmembership/pkg/lint"
)

func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile",
		Short: "Compile the class and print the catalog of every operating system",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMatrix(cmd, true)
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the class compiles with all dependencies on every operating system",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMatrix(cmd, false)
		},
	}
}

func newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Validate the class parameters and report insecure values",
		Args:  cobra.NoArgs,
		RunE:  runLint,
	}
}

func newOSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "os",
		Short: "List the supported operating systems",
		Args:  cobra.NoArgs,
		RunE:  runOS,
	}
}

// runMatrix compiles the parameters on every selected operating system.
// With catalogs set the compiled catalogs are printed, otherwise only
// their status.
func runMatrix(cmd *cobra.Command, catalogs bool) error {
	params, sc, err := loadParams()
	if err != nil {
		return errWithCode(err, exitError)
	}
	contexts, err := loadContexts()
	if err != nil {
		return errWithCode(err, exitError)
	}

	start := time.Now()
	c := newCompiler()
	results := c.CompileMatrix(cmd.Context(), contexts, params, sc, compiler.MatrixOptions{Jobs: cfg.Jobs})
	slog.Info("compilation completed", "num", len(results), "dur", time.Since(start))

	if err := writeMetrics(); err != nil {
		return errWithCode(err, exitError)
	}

	out := cmd.OutOrStdout()
	if cfg.JSON {
		if err := writeJSON(out, newJOutput(results, catalogs)); err != nil {
			return errWithCode(err, exitError)
		}
	} else {
		formatMatrixText(out, results, catalogs)
	}

	if failed := compiler.Failed(results); len(failed) > 0 {
		return errWithCode(fmt.Errorf("%d/%d operating systems failed to compile", len(failed), len(results)), exitFailed)
	}
	return nil
}

func runLint(cmd *cobra.Command, _ []string) error {
	params, sc, err := loadParams()
	if err != nil {
		return errWithCode(err, exitError)
	}

	var problems []string
	if err := params.Validate(); err != nil {
		for _, e := range unjoin(err) {
			problems = append(problems, e.Error())
		}
	}
	findings := lint.Check(params, sc)
	active := lint.Active(findings)

	out := cmd.OutOrStdout()
	if cfg.JSON {
		err := writeJSON(out, jLint{
			Errors:   problems,
			Findings: findings,
			Version:  version,
		})
		if err != nil {
			return errWithCode(err, exitError)
		}
	} else {
		for _, p := range problems {
			printf(out, "error: %s\n", p)
		}
		for _, f := range findings {
			switch {
			case !f.Suppressed:
				printf(out, "warning: %s\n", f)
			case cfg.Verbose:
				printf(out, "suppressed: %s: %s\n", f, f.Reason)
			}
		}
	}

	if len(problems) > 0 || len(active) > 0 {
		return errWithCode(nil, exitFailed)
	}
	return nil
}

func runOS(cmd *cobra.Command, _ []string) error {
	contexts, err := loadContexts()
	if err != nil {
		return errWithCode(err, exitError)
	}

	var list []jOS
	for _, c := range contexts {
		osFacts, err := c.Facts.OS()
		if err != nil {
			return errWithCode(fmt.Errorf("%s: %w", c.Name, err), exitError)
		}
		list = append(list, jOS{
			Name:         c.Name,
			Family:       osFacts.Family,
			Release:      osFacts.Release.Full,
			Architecture: osFacts.Architecture,
			Supported:    compiler.Supports(osFacts),
		})
	}

	out := cmd.OutOrStdout()
	if cfg.JSON {
		if err := writeJSON(out, list); err != nil {
			return errWithCode(err, exitError)
		}
		return nil
	}
	for _, o := range list {
		note := ""
		if !o.Supported {
			note = " (unsupported family)"
		}
		printf(out, "%s%s\n", o.Name, note)
	}
	return nil
}

func formatMatrixText(w io.Writer, results []compiler.MatrixResult, catalogs bool) {
	for _, r := range results {
		if r.Err != nil {
			printf(w, "%s: FAIL %v\n", r.OS, r.Err)
			continue
		}
		printf(w, "%s: ok %d resources (catalog %s)\n", r.OS, len(r.Result.Catalog.Resources), r.Result.Catalog.UUID)
		for _, f := range lint.Active(r.Result.Warnings) {
			printf(w, "  warning: %s\n", f)
		}
		if catalogs && cfg.Verbose {
			order, err := r.Result.Catalog.Order()
			if err != nil {
				continue
			}
			refs := make([]string, len(order))
			for i, ref := range order {
				refs[i] = ref.String()
			}
			printf(w, "  order: %s\n", strings.Join(refs, " -> "))
		}
	}
}

func newJOutput(results []compiler.MatrixResult, catalogs bool) jOutput {
	out := jOutput{
		Results:   make([]jResult, 0, len(results)),
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, r := range results {
		jr := jResult{OS: r.OS}
		if r.Err != nil {
			jr.Error = r.Err.Error()
			jr.Kind = string(compiler.KindOf(r.Err))
			out.Failed++
		} else {
			jr.UUID = r.Result.Catalog.UUID
			jr.Warnings = lint.Active(r.Result.Warnings)
			jr.Duration = r.Result.Duration
			if catalogs {
				jr.Catalog = r.Result.Catalog
			}
		}
		out.Results = append(out.Results, jr)
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// unjoin splits an errors.Join result into its errors.
func unjoin(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}

type jOutput struct {
	Results   []jResult `json:"results"`
	Failed    int       `json:"failed"`
	Version   string    `json:"version"`
	Timestamp string    `json:"timestamp"`
}

type jResult struct {
	OS       string           `json:"os"`
	UUID     string           `json:"catalog_uuid,omitempty"`
	Catalog  *catalog.Catalog `json:"catalog,omitempty"`
	Warnings []lint.Finding   `json:"warnings,omitempty"`
	Duration time.Duration    `json:"duration,omitempty"`
	Error    string           `json:"error,omitempty"`
	Kind     string           `json:"kind,omitempty"`
}

type jLint struct {
	Errors   []string       `json:"errors"`
	Findings []lint.Finding `json:"findings"`
	Version  string         `json:"version"`
}

type jOS struct {
	Name         string `json:"name"`
	Family       string `json:"family"`
	Release      string `json:"release"`
	Architecture string `json:"architecture"`
	Supported    bool   `json:"supported"`
}
