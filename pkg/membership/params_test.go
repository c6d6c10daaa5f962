package membership

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() Params {
	p := Defaults()
	p.Domain = "test.domain"
	p.Username = "testuser"
	p.Password = "password1"
	return p
}

func TestDefaults(t *testing.T) {
	p := Defaults()
	assert.True(t, p.ResetPW)
	assert.True(t, p.Reboot)
	assert.False(t, p.SecurePassword)
	assert.Equal(t, "1", p.JoinOptions)
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(p *Params)
		wantRules map[string]string
	}{
		{name: "fixture params", mutate: func(*Params) {}},
		{name: "netbios domain", mutate: func(p *Params) { p.Domain = "CORP" }},
		{name: "machine ou", mutate: func(p *Params) { p.MachineOU = "OU=Servers,OU=Corp\\, Inc,DC=test,DC=domain" }},
		{name: "rooted domain", mutate: func(p *Params) { p.Domain = "corp.example.com." }},
		{name: "multi valued rdn", mutate: func(p *Params) { p.MachineOU = "OU=Servers+L=Paris,DC=test,DC=domain" }},
		{name: "create account", mutate: func(p *Params) { p.JoinOptions = "3" }},
		{name: "secure password", mutate: func(p *Params) {
			p.SecurePassword = true
			p.Password = "01000000d08c9ddf0115d1118c7a00c04fc297eb"
		}},
		{
			name:      "empty domain",
			mutate:    func(p *Params) { p.Domain = "" },
			wantRules: map[string]string{"domain": "required"},
		},
		{
			name:      "empty username",
			mutate:    func(p *Params) { p.Username = "" },
			wantRules: map[string]string{"username": "notblank"},
		},
		{
			name:      "blank password",
			mutate:    func(p *Params) { p.Password = "   " },
			wantRules: map[string]string{"password": "notblank"},
		},
		{
			name: "all credentials empty",
			mutate: func(p *Params) {
				p.Domain, p.Username, p.Password = "", "", ""
			},
			wantRules: map[string]string{"domain": "required", "username": "notblank", "password": "notblank"},
		},
		{
			name:      "malformed domain",
			mutate:    func(p *Params) { p.Domain = "test..domain" },
			wantRules: map[string]string{"domain": "ad_domain"},
		},
		{
			name:      "netbios name too long",
			mutate:    func(p *Params) { p.Domain = "ABCDEFGHIJKLMNOP" },
			wantRules: map[string]string{"domain": "ad_domain"},
		},
		{
			name:      "numeric top level label",
			mutate:    func(p *Params) { p.Domain = "corp.123" },
			wantRules: map[string]string{"domain": "ad_domain"},
		},
		{
			name:      "domain too long",
			mutate:    func(p *Params) { p.Domain = strings.Repeat("a.", 127) + "com" },
			wantRules: map[string]string{"domain": "ad_domain"},
		},
		{
			name:      "empty rdn value",
			mutate:    func(p *Params) { p.MachineOU = "OU=,DC=test,DC=domain" },
			wantRules: map[string]string{"machine_ou": "distinguished_name"},
		},
		{
			name:      "malformed ou",
			mutate:    func(p *Params) { p.MachineOU = "Servers" },
			wantRules: map[string]string{"machine_ou": "distinguished_name"},
		},
		{
			name:      "non numeric join options",
			mutate:    func(p *Params) { p.JoinOptions = "JOIN" },
			wantRules: map[string]string{"join_options": "join_options"},
		},
		{
			name:      "join options without join flag",
			mutate:    func(p *Params) { p.JoinOptions = "2" },
			wantRules: map[string]string{"join_options": "join_options"},
		},
		{
			name:      "secure password not a secure string",
			mutate:    func(p *Params) { p.SecurePassword = true },
			wantRules: map[string]string{"password": "secure_string"},
		},
		{
			name:      "malformed user domain",
			mutate:    func(p *Params) { p.UserDomain = "bad domain" },
			wantRules: map[string]string{"user_domain": "ad_domain"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := p.Validate()
			if len(tt.wantRules) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)

			got := make(map[string]string)
			for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
				var fe *FieldError
				require.True(t, errors.As(e, &fe))
				got[fe.Param] = fe.Rule
			}
			assert.Equal(t, tt.wantRules, got)
		})
	}
}

func TestParams_QualifiedUser(t *testing.T) {
	p := validParams()
	assert.Equal(t, "testuser@test.domain", p.QualifiedUser())

	p.UserDomain = "accounts.test.domain"
	assert.Equal(t, "testuser@accounts.test.domain", p.QualifiedUser())
}

func TestParams_LogValueRedactsPassword(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("compiling", "params", validParams())

	assert.NotContains(t, buf.String(), "password1")
	assert.Contains(t, buf.String(), "params.password=[redacted]")
	assert.Contains(t, buf.String(), "params.domain=test.domain")
}

func TestParseParams(t *testing.T) {
	p, node, err := ParseParams([]byte(`
domain: test.domain
username: testuser
password: password1
join_options: 3
reboot: false
`))
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "test.domain", p.Domain)
	assert.Equal(t, "3", p.JoinOptions)
	assert.False(t, p.Reboot)
	assert.True(t, p.ResetPW, "unset keys keep their defaults")

	p, _, err = ParseParams(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), p)

	_, _, err = ParseParams([]byte("domain: [unterminated"))
	require.Error(t, err)
}

func TestLoadParams(t *testing.T) {
	file := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(file, []byte("domain: test.domain\nusername: testuser\npassword: password1\n"), 0o600))

	p, _, err := LoadParams(file)
	require.NoError(t, err)
	assert.Equal(t, validParams(), p)

	_, _, err = LoadParams(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestJoinFlags(t *testing.T) {
	flags, err := ParseJoinFlags("35")
	require.NoError(t, err)
	assert.True(t, flags.Has(JoinDomain))
	assert.True(t, flags.Has(AccountCreate))
	assert.True(t, flags.Has(DomainJoinIfJoined))
	assert.Equal(t, "JOIN_DOMAIN|ACCT_CREATE|DOMAIN_JOIN_IF_JOINED", flags.String())

	assert.Equal(t, "JOIN_DOMAIN|0x8", JoinFlags(0x9).String())
	assert.Equal(t, "0", JoinFlags(0).String())

	_, err = ParseJoinFlags("-1")
	require.Error(t, err)
	_, err = ParseJoinFlags("4294967296")
	require.Error(t, err)
}
