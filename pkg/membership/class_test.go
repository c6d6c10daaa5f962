package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/domainmembership/pkg/catalog"
)

func declare(t *testing.T, p Params) *catalog.Catalog {
	t.Helper()
	require.NoError(t, p.Validate())
	c := catalog.New("foo.example.com", "production")
	require.NoError(t, Declare(c, p))
	require.NoError(t, c.Validate())
	return c
}

func command(t *testing.T, c *catalog.Catalog, title string) string {
	t.Helper()
	r, ok := c.Lookup(catalog.NewRef("Exec", title))
	require.True(t, ok, "Exec[%s] not declared", title)
	s, ok := r.Parameters["command"].(catalog.Sensitive)
	require.True(t, ok, "command of Exec[%s] is not sensitive", title)
	return s.Unwrap()
}

func TestDeclare_Defaults(t *testing.T) {
	c := declare(t, validParams())

	var refs []string
	for _, ref := range c.Refs() {
		refs = append(refs, ref.String())
	}
	assert.Equal(t, []string{
		"Class[Domain_membership]",
		"Exec[join_domain]",
		"Exec[reset_computer_trust]",
		"Reboot[after_domain_join]",
	}, refs)
	assert.Equal(t, []string{"domain_membership"}, c.Classes)
	assert.Len(t, c.Edges, 3)

	assert.Equal(t,
		"exit (Get-WmiObject -Class Win32_ComputerSystem).JoinDomainOrWorkGroup('test.domain', 'password1', 'testuser@test.domain', $null, 1).ReturnValue",
		command(t, c, JoinTitle))

	join, _ := c.Lookup(catalog.NewRef("Exec", JoinTitle))
	assert.Equal(t, "powershell", join.Parameters["provider"])
	assert.Equal(t, "if ((Get-WmiObject -Class Win32_ComputerSystem).Domain -ne 'test.domain') { exit 1 }", join.Parameters["unless"])
	assert.Equal(t, []string{"command"}, join.SensitiveParameters)

	reset, _ := c.Lookup(catalog.NewRef("Exec", ResetTitle))
	assert.Equal(t, []catalog.Ref{join.Ref()}, reset.Require)
	assert.Contains(t, command(t, c, ResetTitle), `/userd:'test.domain\testuser'`)

	reboot, ok := c.Lookup(catalog.NewRef("Reboot", RebootTitle))
	require.True(t, ok)
	assert.Equal(t, "immediately", reboot.Parameters["apply"])
	assert.Equal(t, []catalog.Ref{join.Ref()}, reboot.Subscribe)
}

func TestDeclare_Optional(t *testing.T) {
	p := validParams()
	p.ResetPW = false
	p.Reboot = false
	c := declare(t, p)

	assert.Len(t, c.Resources, 2)
	_, ok := c.Lookup(catalog.NewRef("Exec", ResetTitle))
	assert.False(t, ok)
	_, ok = c.Lookup(catalog.NewRef("Reboot", RebootTitle))
	assert.False(t, ok)
}

func TestDeclare_Options(t *testing.T) {
	p := validParams()
	p.MachineOU = "OU=Servers,DC=test,DC=domain"
	p.JoinOptions = "3"
	p.UserDomain = "accounts.test.domain"
	p.Password = "it's"
	c := declare(t, p)

	assert.Equal(t,
		"exit (Get-WmiObject -Class Win32_ComputerSystem).JoinDomainOrWorkGroup('test.domain', 'it''s', 'testuser@accounts.test.domain', 'OU=Servers,DC=test,DC=domain', 3).ReturnValue",
		command(t, c, JoinTitle))
}

func TestPSQuote(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "password1", "'password1'"},
		{"apostrophe", "it's", "'it''s'"},
		{"left single quotation mark", "a\u2018b", "'a\u2018\u2018b'"},
		{"right single quotation mark", "a\u2019b", "'a\u2019\u2019b'"},
		{"low single quotation mark", "a\u201Ab", "'a\u201A\u201Ab'"},
		{"reversed single quotation mark", "a\u201Bb", "'a\u201B\u201Bb'"},
		{"double quotes kept", `say "hi"`, `'say "hi"'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, psQuote(tt.in))
		})
	}
}

func TestDeclare_TypographicQuoteInjection(t *testing.T) {
	p := validParams()
	p.Password = "abc\u2019; Remove-Item C:\\x -Recurse; \u2019"
	c := declare(t, p)

	const quoted = "'abc\u2019\u2019; Remove-Item C:\\x -Recurse; \u2019\u2019'"
	assert.Contains(t, command(t, c, JoinTitle), ", "+quoted+", ")
	assert.Contains(t, command(t, c, ResetTitle), "$password = "+quoted+"\n")
}

func TestDeclare_SecurePassword(t *testing.T) {
	p := validParams()
	p.SecurePassword = true
	p.Password = "01000000d08c9ddf"
	c := declare(t, p)

	join := command(t, c, JoinTitle)
	assert.Contains(t, join, "(ConvertTo-SecureString '01000000d08c9ddf')")
	assert.Contains(t, join, ".GetNetworkCredential().Password")
	assert.Contains(t, command(t, c, ResetTitle), "$password = (New-Object System.Management.Automation.PSCredential")
}

func TestDeclare_Twice(t *testing.T) {
	c := catalog.New("foo", "production")
	require.NoError(t, Declare(c, validParams()))
	require.ErrorIs(t, Declare(c, validParams()), catalog.ErrDuplicateResource)
}

func TestDeclare_InvalidFlags(t *testing.T) {
	p := validParams()
	p.JoinOptions = "x"
	require.Error(t, Declare(catalog.New("foo", "production"), p))
}
