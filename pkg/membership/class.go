package membership

import (
	"fmt"
	"strings"

	"github.com/715d/domainmembership/pkg/catalog"
)

// ClassName is the name of the class this package implements.
const ClassName = "domain_membership"

// Titles of the resources declared by the class.
const (
	JoinTitle   = "join_domain"
	ResetTitle  = "reset_computer_trust"
	RebootTitle = "after_domain_join"
)

// Declare evaluates the class with p and adds its resources to c. The
// parameters are expected to have passed Validate.
func Declare(c *catalog.Catalog, p Params) error {
	flags, err := p.Flags()
	if err != nil {
		return err
	}

	class, err := c.AddClass(ClassName)
	if err != nil {
		return err
	}

	join := &catalog.Resource{
		Type:  "Exec",
		Title: JoinTitle,
		Tags:  []string{"exec", ClassName},
		Parameters: map[string]any{
			"command":  catalog.NewSensitive(joinCommand(p, flags)),
			"unless":   joinUnless(p),
			"provider": "powershell",
		},
	}
	resources := []*catalog.Resource{join}

	if p.ResetPW {
		resources = append(resources, &catalog.Resource{
			Type:  "Exec",
			Title: ResetTitle,
			Tags:  []string{"exec", ClassName},
			Parameters: map[string]any{
				"command":  catalog.NewSensitive(resetCommand(p)),
				"unless":   "if (-not (Test-ComputerSecureChannel)) { exit 1 }",
				"provider": "powershell",
			},
			Require: []catalog.Ref{join.Ref()},
		})
	}

	if p.Reboot {
		resources = append(resources, &catalog.Resource{
			Type:  "Reboot",
			Title: RebootTitle,
			Tags:  []string{"reboot", ClassName},
			Parameters: map[string]any{
				"apply": "immediately",
			},
			Subscribe: []catalog.Ref{join.Ref()},
		})
	}

	for _, r := range resources {
		if err := c.Add(r); err != nil {
			return fmt.Errorf("declaring %s: %w", r.Ref(), err)
		}
		c.Contain(class, r.Ref())
	}
	return nil
}

// psQuoter doubles every character PowerShell accepts as a single quote.
var psQuoter = strings.NewReplacer(
	"'", "''",
	"\u2018", "\u2018\u2018",
	"\u2019", "\u2019\u2019",
	"\u201A", "\u201A\u201A",
	"\u201B", "\u201B\u201B",
)

// psQuote renders s as a single-quoted PowerShell string literal.
func psQuote(s string) string {
	return "'" + psQuoter.Replace(s) + "'"
}

func passwordExpr(p Params) string {
	if p.SecurePassword {
		return fmt.Sprintf(
			"(New-Object System.Management.Automation.PSCredential('user', (ConvertTo-SecureString %s))).GetNetworkCredential().Password",
			psQuote(p.Password))
	}
	return psQuote(p.Password)
}

func joinCommand(p Params, flags JoinFlags) string {
	ou := "$null"
	if p.MachineOU != "" {
		ou = psQuote(p.MachineOU)
	}
	return fmt.Sprintf(
		"exit (Get-WmiObject -Class Win32_ComputerSystem).JoinDomainOrWorkGroup(%s, %s, %s, %s, %d).ReturnValue",
		psQuote(p.Domain), passwordExpr(p), psQuote(p.QualifiedUser()), ou, uint32(flags))
}

func joinUnless(p Params) string {
	return fmt.Sprintf("if ((Get-WmiObject -Class Win32_ComputerSystem).Domain -ne %s) { exit 1 }", psQuote(p.Domain))
}

func resetCommand(p Params) string {
	return strings.Join([]string{
		"$password = " + passwordExpr(p),
		fmt.Sprintf("netdom.exe resetpwd /server:%s /userd:%s /passwordd:$password",
			psQuote(p.Domain), psQuote(p.EffectiveUserDomain()+`\`+p.Username)),
		"exit $LASTEXITCODE",
	}, "\n")
}
