// Package compiler compiles the domain_membership class into a catalog and
// verifies that every dependency of that catalog resolves.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/715d/domainmembership/pkg/catalog"
	"github.com/715d/domainmembership/pkg/facts"
	"github.com/715d/domainmembership/pkg/lint"
	"github.com/715d/domainmembership/pkg/membership"
)

// SupportedFamilies lists the os.family values the class compiles for.
var SupportedFamilies = []string{"windows"}

const defaultEnvironment = "production"

// Supports reports whether the class compiles for the operating system.
func Supports(os facts.OS) bool {
	return slices.ContainsFunc(SupportedFamilies, func(f string) bool { return strings.EqualFold(f, os.Family) })
}

// Options holds configuration options for the compiler.
type Options struct {
	Registry    *Registry // defaults to the DefaultModules registry
	Metrics     *Metrics  // optional
	Environment string    // defaults to "production"
	Version     string    // catalog version stamped on every catalog
}

// Compiler turns facts and parameters into catalogs.
type Compiler struct {
	registry *Registry
	metrics  *Metrics
	opts     Options
}

// New creates a compiler with the given options.
func New(opts Options) *Compiler {
	if opts.Registry == nil {
		opts.Registry = NewRegistry(DefaultModules()...)
	}
	if opts.Environment == "" {
		opts.Environment = defaultEnvironment
	}
	return &Compiler{
		registry: opts.Registry,
		metrics:  opts.Metrics,
		opts:     opts,
	}
}

// Request is one compilation input.
type Request struct {
	// OS names the context being compiled, used in errors and metrics.
	OS string

	Facts  facts.Facts
	Params membership.Params

	// Suppressions silences lint findings. May be nil.
	Suppressions *lint.Checker
}

// Result is a successfully compiled catalog.
type Result struct {
	OS       string
	Catalog  *catalog.Catalog
	Warnings []lint.Finding
	Duration time.Duration
}

// Compile evaluates the class for the request and checks that the catalog
// compiles with all dependencies: every resource type and provider is
// provided by a registered module, every parameter is known, and every
// relationship resolves without cycles.
func (c *Compiler) Compile(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := c.compile(ctx, req)
	dur := time.Since(start)
	c.metrics.recordCompilation(req.OS, err, dur.Seconds())
	if err != nil {
		slog.Debug("compilation failed", "os", req.OS, "err", err)
		return nil, err
	}
	res.Duration = dur
	slog.Debug("compiled catalog", "os", req.OS, "resources", len(res.Catalog.Resources), "dur", dur)
	return res, nil
}

func (c *Compiler) compile(ctx context.Context, req Request) (*Result, error) {
	fail := func(kind ErrorKind, resource string, err error) error {
		return &CompilationError{OS: req.OS, Kind: kind, Resource: resource, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, fail(KindCanceled, "", err)
	}

	osFacts, err := req.Facts.OS()
	if err != nil {
		return nil, fail(KindUnsupportedOS, "", err)
	}
	if !Supports(osFacts) {
		return nil, fail(KindUnsupportedOS, "", fmt.Errorf("os family %q is not supported, supported: %s",
			osFacts.Family, strings.Join(SupportedFamilies, ", ")))
	}

	if err := req.Params.Validate(); err != nil {
		return nil, fail(KindInvalidParams, "", err)
	}
	slog.Debug("compiling", "os", req.OS, "family", osFacts.Family, "release", osFacts.Release.Full, "params", req.Params)

	certname := req.Facts.Certname()
	if certname == "" {
		certname = "localhost"
	}
	cat := catalog.New(certname, c.opts.Environment)
	cat.Version = c.opts.Version

	if err := membership.Declare(cat, req.Params); err != nil {
		var resErr *catalog.ResolutionError
		if errors.As(err, &resErr) && errors.Is(err, catalog.ErrDuplicateResource) {
			return nil, fail(KindDuplicateResource, resErr.Resource.String(), err)
		}
		return nil, fail(KindInternal, "", err)
	}

	if err := c.checkDependencies(cat); err != nil {
		var ce *CompilationError
		if errors.As(err, &ce) {
			ce.OS = req.OS
		}
		return nil, err
	}

	if err := cat.Seal(); err != nil {
		return nil, fail(KindInternal, "", err)
	}

	warnings := lint.Check(req.Params, req.Suppressions)
	for _, f := range lint.Active(warnings) {
		c.metrics.recordFinding(f.Rule)
		slog.Warn("parameter lint", "os", req.OS, "rule", f.Rule, "param", f.Param, "msg", f.Message)
	}

	return &Result{OS: req.OS, Catalog: cat, Warnings: warnings}, nil
}

// checkDependencies verifies the catalog against the registry and resolves
// its relationship graph.
func (c *Compiler) checkDependencies(cat *catalog.Catalog) error {
	for _, r := range cat.Resources {
		if r.Type == "Class" {
			continue
		}
		ref := r.Ref().String()
		info, ok := c.registry.Lookup(r.Type)
		if !ok {
			return &CompilationError{
				Kind:     KindUnknownType,
				Resource: ref,
				Err:      fmt.Errorf("resource type %q is not provided by any module dependency", strings.ToLower(r.Type)),
			}
		}

		params := make([]string, 0, len(r.Parameters))
		for name := range r.Parameters {
			params = append(params, name)
		}
		sort.Strings(params)
		for _, name := range params {
			if !info.HasAttribute(name) {
				return &CompilationError{
					Kind:     KindUnknownAttribute,
					Resource: ref,
					Err:      fmt.Errorf("%s has no attribute %q", strings.ToLower(r.Type), name),
				}
			}
		}

		if provider, ok := r.Parameters["provider"].(string); ok && !info.HasProvider(provider) {
			return &CompilationError{
				Kind:     KindUnknownProvider,
				Resource: ref,
				Err: fmt.Errorf("provider %q of type %s is not available, known providers: %s",
					provider, strings.ToLower(r.Type), strings.Join(info.Providers, ", ")),
			}
		}
	}

	if err := cat.Validate(); err != nil {
		kind := KindInternal
		switch {
		case errors.Is(err, catalog.ErrUnresolvedRef):
			kind = KindUnresolvedRef
		case errors.Is(err, catalog.ErrDependencyCycle):
			kind = KindDependencyCycle
		}
		var resource string
		var resErr *catalog.ResolutionError
		if errors.As(err, &resErr) {
			resource = resErr.Resource.String()
		}
		return &CompilationError{Kind: kind, Resource: resource, Err: err}
	}
	return nil
}
