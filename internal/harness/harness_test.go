package harness

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/domainmembership/pkg/catalog"
	"github.com/715d/domainmembership/pkg/compiler"
)

// TestAll runs all integration tests.
func TestAll(t *testing.T) {
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "get current file path")

	harnessDir := filepath.Dir(filename)
	testdataDir := filepath.Join(harnessDir, "..", "..", "testdata")

	testCases := discoverTestCases(t, testdataDir)
	require.NotEmpty(t, testCases, "no test cases found")

	if testing.Verbose() {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	for _, tc := range testCases {
		t.Run(tc.Dir, func(t *testing.T) {
			t.Parallel()

			for _, config := range tc.Configurations {
				if config.OS != "" {
					t.Logf("[%s] Operating systems: %s", config.Name, config.OS)
				}
				if len(config.Facts) > 0 {
					t.Logf("[%s] Fact overrides: %v", config.Name, config.Facts)
				}
			}

			result := NewHarness(testdataDir).Run(t, tc)
			if result.Skipped {
				t.Skipf("Test skipped: %s", result.Message)
				return
			}

			if !result.Success {
				t.Errorf("Test failed: %s", result.Message)
			}
		})
	}
}

func discoverTestCases(t *testing.T, root string) []*TestCase {
	t.Helper()

	// Read all directories in testdata.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)

	var testCases []*TestCase
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		// Skip custom-matrix tests when running in short mode.
		if strings.HasPrefix(entry.Name(), "matrix-") && testing.Short() {
			continue
		}

		dir := filepath.Join(root, entry.Name())

		// Check if this directory has an expected.yaml.
		if _, err := os.Stat(filepath.Join(dir, "expected.yaml")); err == nil {
			testCases = append(testCases, LoadTestCase(t, dir, root))
		}
	}

	return testCases
}

func TestSameValue(t *testing.T) {
	tests := []struct {
		name string
		got  any
		want any
		same bool
	}{
		{"string", "powershell", "powershell", true},
		{"json number vs yaml int", float64(1), 1, true},
		{"bool", true, true, true},
		{"single element unwrapped", []any{"immediately"}, "immediately", true},
		{"list vs list", []any{"a", "b"}, []any{"a", "b"}, true},
		{"yaml map", map[string]any{"k": float64(2)}, map[any]any{"k": 2}, true},
		{"different", "pwsh", "powershell", false},
		{"multi element not unwrapped", []any{"a", "b"}, "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.same, sameValue(tt.got, tt.want))
		})
	}
}

func TestCompareRuns(t *testing.T) {
	build := func(command string) *catalog.Catalog {
		c := catalog.New("foo.example.com", "production")
		require.NoError(t, c.Add(&catalog.Resource{
			Type:       "Exec",
			Title:      "join_domain",
			Parameters: map[string]any{"command": catalog.NewSensitive(command)},
		}))
		require.NoError(t, c.Seal())
		return c
	}
	first := &compiler.Result{Catalog: build("join password1")}

	same := compiler.MatrixResult{Result: &compiler.Result{Catalog: build("join password1")}}
	require.Empty(t, compareRuns(first, same))

	rotated := compiler.MatrixResult{Result: &compiler.Result{Catalog: build("join password2")}}
	require.Contains(t, compareRuns(first, rotated), "Catalog differs")

	failed := compiler.MatrixResult{Err: errors.New("boom")}
	require.Contains(t, compareRuns(first, failed), "second compilation failed: boom")
}
