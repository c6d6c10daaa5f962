// Package catalog models a compiled configuration catalog: resources, the
// references between them and the relationship graph an agent applies.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Ref identifies a resource as Type[title].
type Ref struct {
	Type  string
	Title string
}

// NewRef returns a reference with a canonical type name.
func NewRef(typ, title string) Ref {
	return Ref{Type: CanonicalType(typ), Title: title}
}

// String renders the reference as Type[title].
func (r Ref) String() string {
	return r.Type + "[" + r.Title + "]"
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool {
	return r.Type == "" && r.Title == ""
}

// MarshalJSON encodes the reference in its rendered form.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a rendered reference.
func (r *Ref) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ref, err := ParseRef(s)
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// ParseRef parses a reference of the form Type[title].
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '[')
	if open <= 0 || !strings.HasSuffix(s, "]") {
		return Ref{}, fmt.Errorf("malformed resource reference %q", s)
	}
	title := s[open+1 : len(s)-1]
	if title == "" {
		return Ref{}, fmt.Errorf("resource reference %q has an empty title", s)
	}
	return NewRef(s[:open], title), nil
}

// CanonicalType capitalises each namespace segment of a type name, so
// "exec" becomes "Exec" and "foo::bar" becomes "Foo::Bar".
func CanonicalType(typ string) string {
	segments := strings.Split(strings.TrimSpace(typ), "::")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(seg)
		segments[i] = string(unicode.ToUpper(r)) + strings.ToLower(seg[size:])
	}
	return strings.Join(segments, "::")
}

// Resource is a single declared resource.
type Resource struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Tags       []string       `json:"tags,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// SensitiveParameters lists the parameter names holding Sensitive values.
	// It is derived when the resource is added to a catalog.
	SensitiveParameters []string `json:"sensitive_parameters,omitempty"`

	Require   []Ref `json:"require,omitempty"`
	Before    []Ref `json:"before,omitempty"`
	Notify    []Ref `json:"notify,omitempty"`
	Subscribe []Ref `json:"subscribe,omitempty"`
}

// Ref returns the reference to this resource.
func (r *Resource) Ref() Ref {
	return NewRef(r.Type, r.Title)
}

// Relation names a relationship metaparameter.
type Relation string

const (
	RelationRequire   Relation = "require"
	RelationBefore    Relation = "before"
	RelationNotify    Relation = "notify"
	RelationSubscribe Relation = "subscribe"
)

// Relationship is one outgoing relationship metaparameter of a resource.
type Relationship struct {
	Relation Relation
	Target   Ref
}

// Relationships returns all relationship metaparameters in a stable order.
func (r *Resource) Relationships() []Relationship {
	var rels []Relationship
	for _, set := range []struct {
		rel  Relation
		refs []Ref
	}{
		{RelationRequire, r.Require},
		{RelationSubscribe, r.Subscribe},
		{RelationBefore, r.Before},
		{RelationNotify, r.Notify},
	} {
		for _, ref := range set.refs {
			rels = append(rels, Relationship{Relation: set.rel, Target: ref})
		}
	}
	return rels
}

// withDigests returns r with every Sensitive parameter replaced by its
// digest. r is returned as is when it holds none.
func (r *Resource) withDigests() *Resource {
	var params map[string]any
	for name, v := range r.Parameters {
		s, ok := v.(Sensitive)
		if !ok {
			continue
		}
		if params == nil {
			params = maps.Clone(r.Parameters)
		}
		params[name] = s.Digest()
	}
	if params == nil {
		return r
	}
	cp := *r
	cp.Parameters = params
	return &cp
}

func (r *Resource) deriveSensitive() {
	r.SensitiveParameters = r.SensitiveParameters[:0]
	for name, v := range r.Parameters {
		if _, ok := v.(Sensitive); ok {
			r.SensitiveParameters = append(r.SensitiveParameters, name)
		}
	}
	if len(r.SensitiveParameters) == 0 {
		r.SensitiveParameters = nil
		return
	}
	slices.Sort(r.SensitiveParameters)
}

const redacted = "Sensitive [value redacted]"

// Sensitive wraps a value that must never be rendered in output or logs.
type Sensitive struct {
	value string
}

// NewSensitive wraps v.
func NewSensitive(v string) Sensitive {
	return Sensitive{value: v}
}

// Unwrap returns the wrapped value.
func (s Sensitive) Unwrap() string {
	return s.value
}

func (s Sensitive) String() string {
	return redacted
}

// MarshalJSON always emits the redaction marker.
func (s Sensitive) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

// Digest returns the hex SHA-256 digest of the wrapped value, prefixed
// with "sha256:".
func (s Sensitive) Digest() string {
	sum := sha256.Sum256([]byte(s.value))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// LogValue implements slog.LogValuer.
func (s Sensitive) LogValue() slog.Value {
	return slog.StringValue(redacted)
}
