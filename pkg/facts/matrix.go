package facts

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

//go:embed supported_os.yaml
var defaultMatrix []byte

// Platform is one supported operating system and the releases tested on it.
type Platform struct {
	OperatingSystem string   `yaml:"operatingsystem"`
	Family          string   `yaml:"family,omitempty"`
	Releases        []string `yaml:"releases"`
	Architecture    string   `yaml:"architecture"`
	Facts           Facts    `yaml:"facts,omitempty"`
	Skip            bool     `yaml:"skip,omitempty"`
	Reason          string   `yaml:"reason,omitempty"`
}

// Matrix lists the supported platforms.
type Matrix struct {
	Platforms []Platform `yaml:"platforms"`
}

// Context is one operating system a catalog is compiled for.
type Context struct {
	Name  string
	Facts Facts
}

// DefaultMatrix returns the built-in supported operating system matrix.
func DefaultMatrix() (*Matrix, error) {
	return parseMatrix(defaultMatrix, "supported_os.yaml")
}

// LoadMatrix reads a matrix from a YAML file. An empty path selects the
// built-in matrix.
func LoadMatrix(file string) (*Matrix, error) {
	if file == "" {
		return DefaultMatrix()
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading matrix: %w", err)
	}
	return parseMatrix(data, file)
}

func parseMatrix(data []byte, name string) (*Matrix, error) {
	var m Matrix
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing matrix %s: %w", name, err)
	}
	for i, p := range m.Platforms {
		if strings.TrimSpace(p.OperatingSystem) == "" {
			return nil, fmt.Errorf("matrix %s: platform at index %d has empty or missing 'operatingsystem' field", name, i)
		}
		if len(p.Releases) == 0 {
			return nil, fmt.Errorf("matrix %s: platform %s lists no releases", name, p.OperatingSystem)
		}
	}
	return &m, nil
}

// OnSupportedOS enumerates every (operating system, facts) pair of the
// matrix in declaration order. A non-empty pattern keeps only the contexts
// whose name matches it as a path.Match glob.
func OnSupportedOS(m *Matrix, pattern string) ([]Context, error) {
	if pattern != "" {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid os pattern %q: %w", pattern, err)
		}
	}

	var contexts []Context
	for _, p := range m.Platforms {
		if p.Skip {
			slog.Debug("skipping platform", "os", p.OperatingSystem, "reason", p.Reason)
			continue
		}
		for _, release := range p.Releases {
			name := ContextName(p.OperatingSystem, release, p.Architecture)
			if pattern != "" {
				if ok, _ := path.Match(pattern, name); !ok {
					continue
				}
			}
			contexts = append(contexts, Context{
				Name:  name,
				Facts: p.factsFor(release),
			})
		}
	}
	return contexts, nil
}

// ContextName renders the context name, e.g. "windows-2012r2-x64".
func ContextName(operatingSystem, release, arch string) string {
	name := strings.Join([]string{operatingSystem, release, arch}, "-")
	return strings.ToLower(strings.ReplaceAll(name, " ", ""))
}

func (p Platform) factsFor(release string) Facts {
	family := p.Family
	if family == "" {
		family = strings.ToLower(p.OperatingSystem)
	}
	windows := strings.EqualFold(family, "windows")

	major, minor := release, ""
	if !windows {
		if before, after, ok := strings.Cut(release, "."); ok {
			major, minor = before, after
		}
	}

	kernel := "Linux"
	if windows {
		kernel = "windows"
	}

	base := Facts{
		"kernel":   kernel,
		"hostname": "foo",
		"fqdn":     "foo.example.com",
		"networking": map[string]any{
			"hostname": "foo",
			"domain":   "example.com",
			"fqdn":     "foo.example.com",
		},
		"os": map[string]any{
			"name":         p.OperatingSystem,
			"family":       family,
			"architecture": p.Architecture,
			"hardware":     p.Architecture,
			"release": map[string]any{
				"full":  release,
				"major": major,
				"minor": minor,
			},
		},
	}
	if windows {
		base = base.Merge(Facts{"os": map[string]any{"windows": map[string]any{
			"product_name":      "Windows Server " + release,
			"installation_type": "Server",
			"system32":          `C:\Windows\system32`,
		}}})
	}
	return base.Merge(p.Facts)
}
