package catalog

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Ref
		wantErr bool
	}{
		{name: "simple", input: "Exec[join_domain]", want: Ref{Type: "Exec", Title: "join_domain"}},
		{name: "lowercase type", input: "reboot[after_domain_join]", want: Ref{Type: "Reboot", Title: "after_domain_join"}},
		{name: "namespaced type", input: "foo::bar[x]", want: Ref{Type: "Foo::Bar", Title: "x"}},
		{name: "title with brackets", input: "File[C:\\a[1]]", want: Ref{Type: "File", Title: "C:\\a[1]"}},
		{name: "missing title", input: "Exec[]", wantErr: true},
		{name: "missing type", input: "[x]", wantErr: true},
		{name: "no brackets", input: "Exec", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRef(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
}

func TestCatalog_AddDuplicate(t *testing.T) {
	c := New("node.test.domain", "production")
	require.NoError(t, c.Add(&Resource{Type: "exec", Title: "join_domain"}))

	err := c.Add(&Resource{Type: "Exec", Title: "join_domain"})
	require.ErrorIs(t, err, ErrDuplicateResource)

	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "Exec[join_domain]", resErr.Resource.String())
}

func TestCatalog_AddClass(t *testing.T) {
	c := New("node", "production")
	ref, err := c.AddClass("domain_membership")
	require.NoError(t, err)
	assert.Equal(t, "Class[Domain_membership]", ref.String())
	assert.Equal(t, []string{"domain_membership"}, c.Classes)

	_, ok := c.Lookup(ref)
	assert.True(t, ok)

	_, err = c.AddClass("domain_membership")
	require.ErrorIs(t, err, ErrDuplicateResource)
}

func TestCatalog_ValidateUnresolved(t *testing.T) {
	c := New("node", "production")
	require.NoError(t, c.Add(&Resource{
		Type:    "Exec",
		Title:   "reset_computer_trust",
		Require: []Ref{NewRef("exec", "join_domain")},
	}))

	err := c.Validate()
	require.ErrorIs(t, err, ErrUnresolvedRef)
	assert.Contains(t, err.Error(), "Exec[reset_computer_trust] require Exec[join_domain]")
}

func TestCatalog_ValidateCycle(t *testing.T) {
	c := New("node", "production")
	require.NoError(t, c.Add(&Resource{Type: "Exec", Title: "a", Require: []Ref{NewRef("Exec", "b")}}))
	require.NoError(t, c.Add(&Resource{Type: "Exec", Title: "b", Subscribe: []Ref{NewRef("Exec", "c")}}))
	require.NoError(t, c.Add(&Resource{Type: "Exec", Title: "c", Require: []Ref{NewRef("Exec", "a")}}))

	err := c.Validate()
	require.ErrorIs(t, err, ErrDependencyCycle)
	assert.Contains(t, err.Error(), "=>")

	_, err = c.Order()
	require.ErrorIs(t, err, ErrDependencyCycle)
}

func TestCatalog_Order(t *testing.T) {
	c := New("node", "production")
	require.NoError(t, c.Add(&Resource{Type: "Reboot", Title: "after", Subscribe: []Ref{NewRef("Exec", "join")}}))
	require.NoError(t, c.Add(&Resource{Type: "Exec", Title: "reset", Require: []Ref{NewRef("Exec", "join")}}))
	require.NoError(t, c.Add(&Resource{Type: "Exec", Title: "join"}))
	require.NoError(t, c.Add(&Resource{Type: "Exec", Title: "first", Before: []Ref{NewRef("Exec", "join")}}))

	order, err := c.Order()
	require.NoError(t, err)

	var got []string
	for _, ref := range order {
		got = append(got, ref.String())
	}
	assert.Equal(t, []string{"Exec[first]", "Exec[join]", "Reboot[after]", "Exec[reset]"}, got)
}

func TestSensitive_Redaction(t *testing.T) {
	c := New("node", "production")
	require.NoError(t, c.Add(&Resource{
		Type:  "Exec",
		Title: "join_domain",
		Parameters: map[string]any{
			"command":  NewSensitive("secret-command password1"),
			"provider": "powershell",
		},
	}))

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "password1")
	assert.Contains(t, string(data), "Sensitive [value redacted]")

	r, ok := c.Lookup(NewRef("Exec", "join_domain"))
	require.True(t, ok)
	assert.Equal(t, []string{"command"}, r.SensitiveParameters)
	assert.Equal(t, "secret-command password1", r.Parameters["command"].(Sensitive).Unwrap())
}

func TestCatalog_SealDeterministic(t *testing.T) {
	build := func() *Catalog {
		c := New("node", "production")
		require.NoError(t, c.Add(&Resource{Type: "Exec", Title: "join", Parameters: map[string]any{"b": 1, "a": "x"}}))
		require.NoError(t, c.Seal())
		return c
	}

	first, second := build(), build()
	require.NotEmpty(t, first.UUID)
	assert.Equal(t, first.UUID, second.UUID)

	// Resealing must not fold the previous UUID into the hash.
	uuidBefore := first.UUID
	require.NoError(t, first.Seal())
	assert.Equal(t, uuidBefore, first.UUID)

	other := New("other", "production")
	require.NoError(t, other.Seal())
	assert.NotEqual(t, first.UUID, other.UUID)
}

func TestCatalog_SealSensitive(t *testing.T) {
	build := func(command string) *Catalog {
		c := New("node", "production")
		require.NoError(t, c.Add(&Resource{
			Type:       "Exec",
			Title:      "join_domain",
			Parameters: map[string]any{"command": NewSensitive(command)},
		}))
		require.NoError(t, c.Seal())
		return c
	}

	old, rotated := build("join old-password"), build("join new-password")
	assert.NotEqual(t, old.UUID, rotated.UUID)
	assert.Equal(t, old.UUID, build("join old-password").UUID)

	data, err := old.Fingerprint()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "old-password")
	assert.Contains(t, string(data), NewSensitive("join old-password").Digest())

	// The regular encoding stays redacted and the catalog is not modified.
	data, err = json.Marshal(old)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Sensitive [value redacted]")
	r, _ := old.Lookup(NewRef("Exec", "join_domain"))
	assert.Equal(t, "join old-password", r.Parameters["command"].(Sensitive).Unwrap())
}

func TestCanonicalType(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"exec", "Exec"},
		{"EXEC", "Exec"},
		{"windows::dsc", "Windows::Dsc"},
		{"élan::ñu", "Élan::Ñu"},
		{"  reboot ", "Reboot"},
		{"a::::b", "A::::B"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalType(tt.in), tt.in)
	}
}

func TestCatalog_DecodedLookup(t *testing.T) {
	c := New("node", "production")
	require.NoError(t, c.Add(&Resource{Type: "Exec", Title: "join", Notify: []Ref{NewRef("Reboot", "now")}}))
	require.NoError(t, c.Add(&Resource{Type: "Reboot", Title: "now"}))
	data, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded Catalog
	require.NoError(t, json.Unmarshal(data, &decoded))
	_, ok := decoded.Lookup(NewRef("Reboot", "now"))
	assert.True(t, ok)
	require.NoError(t, decoded.Validate())
}
