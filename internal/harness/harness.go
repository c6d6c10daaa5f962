package harness

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/PaesslerAG/jsonpath"

	"github.com/stretchr/testify/require"

	"github.com/715d/domainmembership/pkg/catalog"
	"github.com/715d/domainmembership/pkg/compiler"
	"github.com/715d/domainmembership/pkg/lint"
)

// TestHarness manages test execution.
type TestHarness struct {
	// compiler is the catalog compiler under test
	compiler *compiler.Compiler

	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{
		compiler: compiler.New(compiler.Options{}),
		root:     root,
	}
}

// Run executes a test case with all its configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Configurations, "test case has no configurations")

	var results []ConfigurationResult
	var allSuccess = true

	// Run each configuration.
	for _, cfg := range tc.Configurations {
		cfgResult := h.runConfiguration(t, tc, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	// Create overall result message.
	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.Configurations))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.Configurations), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

// runConfiguration compiles the configuration on every selected context
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg Configuration) *ConfigurationResult {
	t.Helper()
	dir := filepath.Join(h.root, tc.Dir)

	params, suppressions := LoadParams(t, dir, tc)
	contexts := LoadContexts(t, dir, tc, cfg)
	if len(contexts) == 0 {
		return &ConfigurationResult{
			Configuration: cfg,
			Message:       fmt.Sprintf("No supported operating system matches %q", cfg.OS),
		}
	}

	first := h.compiler.CompileMatrix(t.Context(), contexts, params, suppressions, compiler.MatrixOptions{})
	second := h.compiler.CompileMatrix(t.Context(), contexts, params, suppressions, compiler.MatrixOptions{})

	cfgResult := &ConfigurationResult{
		Configuration: cfg,
		Results:       first,
	}
	validateConfigurationResults(cfgResult, first, second)
	return cfgResult
}

// ConfigurationResult represents the result of running a single configuration.
type ConfigurationResult struct {
	// Configuration is the configuration that was run.
	Configuration Configuration

	// Results holds the compilation outcome per operating system.
	Results []compiler.MatrixResult

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each configuration.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all configurations passed)
	Success bool

	// Skipped indicates if the test was skipped.
	Skipped bool

	// Message provides a summary of the result.
	Message string
}

func validateConfigurationResults(cfgResult *ConfigurationResult, first, second []compiler.MatrixResult) {
	cfg := cfgResult.Configuration
	var details []string

	for i, r := range first {
		prefix := r.OS + ": "
		if len(cfg.ExpectedErrors) > 0 {
			if r.Err == nil {
				details = append(details, prefix+"compiled, expected errors: "+strings.Join(cfg.ExpectedErrors, ", "))
				continue
			}
			for _, want := range cfg.ExpectedErrors {
				if !strings.Contains(r.Err.Error(), want) {
					details = append(details, fmt.Sprintf("%serror %q does not contain %q", prefix, r.Err, want))
				}
			}
			continue
		}

		if r.Err != nil {
			details = append(details, prefix+"compilation failed: "+r.Err.Error())
			continue
		}
		for _, d := range validateCatalog(cfg, r.Result) {
			details = append(details, prefix+d)
		}
		if d := compareRuns(r.Result, second[i]); d != "" {
			details = append(details, prefix+d)
		}
	}

	cfgResult.Success = len(details) == 0
	cfgResult.Details = details
	if cfgResult.Success {
		cfgResult.Message = fmt.Sprintf("All %d operating systems passed", len(first))
	} else {
		cfgResult.Message = fmt.Sprintf("Test failed: %d problems across %d operating systems", len(details), len(first))
	}
}

func validateCatalog(cfg Configuration, res *compiler.Result) []string {
	var details []string

	for _, want := range cfg.ExpectedResources {
		ref, err := catalog.ParseRef(want)
		if err != nil {
			details = append(details, fmt.Sprintf("Invalid expected.yaml: %v", err))
			continue
		}
		if _, ok := res.Catalog.Lookup(ref); !ok {
			details = append(details, "Should have been declared: "+ref.String())
		}
	}
	for _, unwanted := range cfg.AbsentResources {
		ref, err := catalog.ParseRef(unwanted)
		if err != nil {
			details = append(details, fmt.Sprintf("Invalid expected.yaml: %v", err))
			continue
		}
		if _, ok := res.Catalog.Lookup(ref); ok {
			details = append(details, "Should not have been declared: "+ref.String())
		}
	}

	var findings []string
	for _, f := range lint.Active(res.Warnings) {
		findings = append(findings, f.Rule)
	}
	expected := slices.Clone(cfg.ExpectedFindings)
	slices.Sort(findings)
	slices.Sort(expected)
	if !slices.Equal(findings, expected) {
		details = append(details, fmt.Sprintf("Lint findings mismatch: expected %v, got %v", expected, findings))
	}

	if len(cfg.Assertions) > 0 {
		details = append(details, checkAssertions(cfg.Assertions, res.Catalog)...)
	}
	return details
}

// checkAssertions evaluates the JSONPath assertions against the catalog
// as an agent would receive it.
func checkAssertions(assertions []Assertion, cat *catalog.Catalog) []string {
	data, err := json.Marshal(cat)
	if err != nil {
		return []string{fmt.Sprintf("marshaling catalog: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []string{fmt.Sprintf("unmarshaling catalog: %v", err)}
	}

	var details []string
	for _, a := range assertions {
		got, err := jsonpath.Get(a.Path, doc)
		if err != nil {
			details = append(details, fmt.Sprintf("Assertion %s: %v", a.Path, err))
			continue
		}
		if !sameValue(got, a.Equals) {
			details = append(details, fmt.Sprintf("Assertion %s: expected %v, got %v", a.Path, a.Equals, got))
		}
	}
	return details
}

// sameValue compares a decoded JSON value with a decoded YAML value.
// Single-element results of wildcard paths compare as their element.
func sameValue(got, want any) bool {
	if list, ok := got.([]any); ok && len(list) == 1 {
		if _, wantList := want.([]any); !wantList {
			got = list[0]
		}
	}
	gotJSON, err1 := json.Marshal(got)
	wantJSON, err2 := json.Marshal(normalizeYAML(want))
	if err1 != nil || err2 != nil {
		return reflect.DeepEqual(got, want)
	}
	var g, w any
	_ = json.Unmarshal(gotJSON, &g)
	_ = json.Unmarshal(wantJSON, &w)
	return reflect.DeepEqual(g, w)
}

func normalizeYAML(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = normalizeYAML(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[fmt.Sprint(k)] = normalizeYAML(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalizeYAML(e)
		}
		return out
	}
	return v
}

// compareRuns checks that a second compilation produced the same catalog,
// including its Sensitive values.
func compareRuns(first *compiler.Result, second compiler.MatrixResult) string {
	if second.Err != nil {
		return "second compilation failed: " + second.Err.Error()
	}
	a, err := first.Catalog.Fingerprint()
	if err != nil {
		return err.Error()
	}
	b, err := second.Result.Catalog.Fingerprint()
	if err != nil {
		return err.Error()
	}
	if string(a) != string(b) {
		return "Catalog differs between two compilations of the same input"
	}
	return ""
}
