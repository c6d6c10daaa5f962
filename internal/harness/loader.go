package harness

import (
	"os"
	"path/filepath"
	"testing"

	yaml "gopkg.in/yaml.v3"

	"github.com/stretchr/testify/require"

	"github.com/715d/domainmembership/pkg/facts"
	"github.com/715d/domainmembership/pkg/lint"
	"github.com/715d/domainmembership/pkg/membership"
)

const defaultParamsFile = "params.yaml"

// LoadTestCase loads a test case from a directory with a specified testdata root.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()
	yamlPath := filepath.Join(dir, "expected.yaml")

	tc := &TestCase{}
	data, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	err = yaml.Unmarshal(data, tc)
	require.NoError(t, err)

	if tc.Params == "" {
		tc.Params = defaultParamsFile
	}

	// Use relative path from testdata root if provided.
	if root != "" {
		relPath, err := filepath.Rel(root, dir)
		if err != nil {
			tc.Dir = filepath.Base(dir)
		} else {
			tc.Dir = relPath
		}
		return tc
	}

	tc.Dir = filepath.Base(dir)
	return tc
}

// LoadParams loads the parameters of a test case and the suppressions
// declared in their comments.
func LoadParams(t *testing.T, dir string, tc *TestCase) (membership.Params, *lint.Checker) {
	t.Helper()
	p, doc, err := membership.LoadParams(filepath.Join(dir, tc.Params))
	require.NoError(t, err)

	checker := lint.NewChecker()
	require.NoError(t, checker.Load(doc))
	return p, checker
}

// LoadContexts enumerates the supported operating systems a configuration
// selects, with its fact overrides applied.
func LoadContexts(t *testing.T, dir string, tc *TestCase, cfg Configuration) []facts.Context {
	t.Helper()
	matrixFile := ""
	if tc.Matrix != "" {
		matrixFile = filepath.Join(dir, tc.Matrix)
	}
	m, err := facts.LoadMatrix(matrixFile)
	require.NoError(t, err)

	contexts, err := facts.OnSupportedOS(m, cfg.OS)
	require.NoError(t, err)

	if len(cfg.Facts) > 0 {
		for i := range contexts {
			contexts[i].Facts = contexts[i].Facts.Merge(cfg.Facts)
		}
	}
	return contexts
}
