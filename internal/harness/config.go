// Package harness provides test harness infrastructure for verifying that
// the domain_membership class compiles across the supported operating systems.
package harness

import "github.com/715d/domainmembership/pkg/facts"

// Configuration is a single set of expectations checked on every operating
// system it selects.
type Configuration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// OS is a glob over context names, e.g. "windows-2012*". Empty selects all.
	OS string `yaml:"os,omitempty"`

	// Facts are deep-merged over the facts of every selected context.
	Facts facts.Facts `yaml:"facts,omitempty"`

	// ExpectedResources lists references that must be in the catalog.
	ExpectedResources []string `yaml:"expected_resources"`

	// AbsentResources lists references that must not be in the catalog.
	AbsentResources []string `yaml:"absent_resources"`

	// ExpectedErrors lists substrings every compilation error must contain.
	// When set, compilation is expected to fail on every selected context.
	ExpectedErrors []string `yaml:"expected_errors"`

	// ExpectedFindings lists the unsuppressed lint rules expected, exactly.
	ExpectedFindings []string `yaml:"expected_findings"`

	// Assertions are JSONPath checks against the catalog JSON.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion checks the value found at a JSONPath expression.
type Assertion struct {
	Path   string `yaml:"path"`
	Equals any    `yaml:"equals"`
}

// TestCase represents a single test scenario.
type TestCase struct {
	// Dir is the directory containing the test case.
	Dir string `yaml:"-"`

	// Params is the parameter file, relative to Dir. Defaults to params.yaml.
	Params string `yaml:"params,omitempty"`

	// Matrix is an optional supported-OS matrix file, relative to Dir.
	// Defaults to the built-in matrix.
	Matrix string `yaml:"matrix,omitempty"`

	// Configurations defines the expectations to check.
	Configurations []Configuration `yaml:"configurations"`
}
