// Package facts describes the target node: raw fact maps, a typed view of
// the operating system facts and the matrix of supported operating systems.
package facts

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	yaml "gopkg.in/yaml.v3"
)

// ErrMissingFact is returned when a required fact is absent.
var ErrMissingFact = errors.New("missing fact")

// Facts is a nested map of node facts, as reported by a fact collector.
type Facts map[string]any

// OS is the typed view of the "os" structured fact.
type OS struct {
	Name         string   `mapstructure:"name"`
	Family       string   `mapstructure:"family"`
	Architecture string   `mapstructure:"architecture"`
	Hardware     string   `mapstructure:"hardware"`
	Release      Release  `mapstructure:"release"`
	Windows      *Windows `mapstructure:"windows"`
}

// Release holds the operating system release facts.
type Release struct {
	Full  string `mapstructure:"full"`
	Major string `mapstructure:"major"`
	Minor string `mapstructure:"minor"`
}

// Windows holds the Windows-only os facts.
type Windows struct {
	ProductName      string `mapstructure:"product_name"`
	InstallationType string `mapstructure:"installation_type"`
	System32         string `mapstructure:"system32"`
	EditionID        string `mapstructure:"edition_id"`
}

// Get looks up a dotted fact path such as "os.release.major".
func (f Facts) Get(path string) (any, bool) {
	var cur any = map[string]any(f)
	for key := range strings.SplitSeq(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString looks up a dotted fact path and renders it as a string.
func (f Facts) GetString(path string) string {
	v, ok := f.Get(path)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// OS decodes the "os" structured fact. Nodes that only report the legacy
// flat facts (osfamily, operatingsystem, ...) are mapped onto the same shape.
func (f Facts) OS() (OS, error) {
	var out OS
	raw, ok := f["os"]
	if !ok {
		legacy, err := f.legacyOS()
		if err != nil {
			return out, err
		}
		raw = legacy
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, fmt.Errorf("creating os fact decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return out, fmt.Errorf("decoding os fact: %w", err)
	}
	if out.Family == "" {
		return out, fmt.Errorf("%w: os.family", ErrMissingFact)
	}
	return out, nil
}

func (f Facts) legacyOS() (map[string]any, error) {
	family := f.GetString("osfamily")
	if family == "" {
		return nil, fmt.Errorf("%w: os", ErrMissingFact)
	}
	return map[string]any{
		"name":         f.GetString("operatingsystem"),
		"family":       family,
		"architecture": f.GetString("architecture"),
		"hardware":     f.GetString("hardwaremodel"),
		"release": map[string]any{
			"full":  f.GetString("operatingsystemrelease"),
			"major": f.GetString("operatingsystemmajrelease"),
		},
	}, nil
}

// Certname returns the node name the facts describe, preferring the fully
// qualified name.
func (f Facts) Certname() string {
	for _, path := range []string{"networking.fqdn", "fqdn", "networking.hostname", "hostname"} {
		if s := f.GetString(path); s != "" {
			return strings.ToLower(s)
		}
	}
	return ""
}

// Merge returns a copy of f with overrides deep-merged on top.
func (f Facts) Merge(overrides Facts) Facts {
	return Facts(mergeMaps(f, overrides))
}

// LoadFile reads facts from a YAML or JSON file.
func LoadFile(path string) (Facts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading facts: %w", err)
	}
	var f Facts
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing facts %s: %w", path, err)
	}
	if f == nil {
		return nil, fmt.Errorf("facts file %s is empty", path)
	}
	return f, nil
}

func mergeMaps(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		if m, ok := asMap(v); ok {
			v = mergeMaps(m, nil)
		}
		out[k] = v
	}
	for k, v := range overrides {
		om, isMap := asMap(v)
		if !isMap {
			out[k] = v
			continue
		}
		if bm, ok := asMap(out[k]); ok {
			out[k] = mergeMaps(bm, om)
			continue
		}
		out[k] = mergeMaps(om, nil)
	}
	return out
}

// asMap normalises the map shapes produced by the YAML and JSON decoders.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Facts:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	}
	return nil, false
}
