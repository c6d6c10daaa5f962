package lint

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nbutton23/zxcvbn-go"

	"github.com/715d/domainmembership/pkg/membership"
)

// Rule names.
const (
	RulePlaintextPassword = "plaintext-password"
	RuleWeakPassword      = "weak-password"
	RuleQualifiedUsername = "qualified-username"
)

// minPasswordScore is the lowest zxcvbn score, 0 to 4, not reported as weak.
const minPasswordScore = 3

// Rule describes one check.
type Rule struct {
	Name        string `json:"name"`
	Param       string `json:"param"`
	Description string `json:"description"`
	check       func(p membership.Params) (string, bool)
}

// Finding is a rule violation for one parameter.
type Finding struct {
	Rule       string `json:"rule"`
	Param      string `json:"param"`
	Message    string `json:"message"`
	Suppressed bool   `json:"suppressed"`
	Reason     string `json:"reason,omitempty"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s (%s)", f.Param, f.Message, f.Rule)
}

var rules = []Rule{
	{
		Name:        RulePlaintextPassword,
		Param:       "password",
		Description: "the join password is stored in plaintext; pass a SecureString export with secure_password",
		check: func(p membership.Params) (string, bool) {
			if p.SecurePassword || p.Password == "" {
				return "", false
			}
			return "password is stored in plaintext, set secure_password and pass a SecureString export", true
		},
	},
	{
		Name:        RuleWeakPassword,
		Param:       "password",
		Description: "the join password is easy to guess, including passwords derived from the username or domain",
		check: func(p membership.Params) (string, bool) {
			if p.SecurePassword || p.Password == "" {
				return "", false
			}
			m := zxcvbn.PasswordStrength(p.Password, passwordInputs(p))
			if m.Score >= minPasswordScore {
				return "", false
			}
			return fmt.Sprintf("password is weak: strength %d/4, at least %d required, cracked in %s",
				m.Score, minPasswordScore, m.CrackTimeDisplay), true
		},
	},
	{
		Name:        RuleQualifiedUsername,
		Param:       "username",
		Description: "the username already carries a domain and would be qualified twice",
		check: func(p membership.Params) (string, bool) {
			if !strings.ContainsAny(p.Username, `@\`) {
				return "", false
			}
			return fmt.Sprintf("username %q already carries a domain, it is joined as %q; use user_domain instead",
				p.Username, p.QualifiedUser()), true
		},
	},
}

// Rules returns the available rules.
func Rules() []Rule {
	return slices.Clone(rules)
}

// Check runs every rule against p. Findings suppressed by sc are returned
// with Suppressed set. sc may be nil.
func Check(p membership.Params, sc *Checker) []Finding {
	var findings []Finding
	for _, r := range rules {
		msg, found := r.check(p)
		if !found {
			continue
		}
		suppressed, reason := sc.IsSuppressed(r.Name, r.Param)
		findings = append(findings, Finding{
			Rule:       r.Name,
			Param:      r.Param,
			Message:    msg,
			Suppressed: suppressed,
			Reason:     reason,
		})
	}
	return findings
}

// Active returns the findings that are not suppressed.
func Active(findings []Finding) []Finding {
	var out []Finding
	for _, f := range findings {
		if !f.Suppressed {
			out = append(out, f)
		}
	}
	return out
}

// passwordInputs are the values a password must not be derived from.
func passwordInputs(p membership.Params) []string {
	inputs := []string{p.Username, p.UserDomain}
	for label := range strings.SplitSeq(p.Domain, ".") {
		inputs = append(inputs, label)
	}
	return slices.DeleteFunc(inputs, func(s string) bool { return s == "" })
}
