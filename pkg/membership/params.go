// Package membership implements the domain_membership class: the join
// parameters, their validation and the resources the class declares.
package membership

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-playground/validator/v10"
	yaml "gopkg.in/yaml.v3"
)

// Params is the parameter set of the domain_membership class.
type Params struct {
	// Domain is the DNS or NetBIOS name of the domain to join.
	Domain string `yaml:"domain" mapstructure:"domain" json:"domain" validate:"required,ad_domain"`

	// Username is the account used to join the domain.
	Username string `yaml:"username" mapstructure:"username" json:"username" validate:"notblank"`

	// Password of Username. When SecurePassword is set it holds the output
	// of ConvertFrom-SecureString rather than the plaintext password.
	Password string `yaml:"password" mapstructure:"password" json:"-" validate:"notblank"`

	SecurePassword bool `yaml:"secure_password" mapstructure:"secure_password" json:"secure_password"`

	// MachineOU is the distinguished name of the OU for the computer account.
	MachineOU string `yaml:"machine_ou" mapstructure:"machine_ou" json:"machine_ou,omitempty" validate:"omitempty,distinguished_name"`

	// ResetPW resets the machine account password when the secure channel is broken.
	ResetPW bool `yaml:"resetpw" mapstructure:"resetpw" json:"resetpw"`

	// Reboot reboots the node right after it joined the domain.
	Reboot bool `yaml:"reboot" mapstructure:"reboot" json:"reboot"`

	// JoinOptions is the decimal JoinDomainOrWorkGroup flag bitmask.
	JoinOptions string `yaml:"join_options" mapstructure:"join_options" json:"join_options" validate:"required,join_options"`

	// UserDomain is the domain of Username. Defaults to Domain.
	UserDomain string `yaml:"user_domain" mapstructure:"user_domain" json:"user_domain,omitempty" validate:"omitempty,ad_domain"`
}

// Defaults returns the class defaults. Domain, username and password have
// no default.
func Defaults() Params {
	return Params{
		ResetPW:     true,
		Reboot:      true,
		JoinOptions: strconv.Itoa(int(JoinDomain)),
	}
}

// EffectiveUserDomain returns UserDomain, falling back to Domain.
func (p Params) EffectiveUserDomain() string {
	if p.UserDomain != "" {
		return p.UserDomain
	}
	return p.Domain
}

// QualifiedUser returns username@user_domain.
func (p Params) QualifiedUser() string {
	return p.Username + "@" + p.EffectiveUserDomain()
}

// Flags parses JoinOptions.
func (p Params) Flags() (JoinFlags, error) {
	return ParseJoinFlags(p.JoinOptions)
}

// LogValue implements slog.LogValuer and never renders the password.
func (p Params) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("domain", p.Domain),
		slog.String("username", p.Username),
		slog.String("password", "[redacted]"),
		slog.Bool("secure_password", p.SecurePassword),
		slog.String("machine_ou", p.MachineOU),
		slog.Bool("resetpw", p.ResetPW),
		slog.Bool("reboot", p.Reboot),
		slog.String("join_options", p.JoinOptions),
		slog.String("user_domain", p.UserDomain),
	)
}

// LoadParams reads a parameter file on top of the defaults. The returned
// node is the parsed document, kept for comment-based lint suppressions.
func LoadParams(path string) (Params, *yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, nil, fmt.Errorf("reading params: %w", err)
	}
	p, node, err := ParseParams(data)
	if err != nil {
		return Params{}, nil, fmt.Errorf("parsing params %s: %w", path, err)
	}
	return p, node, nil
}

// ParseParams decodes a YAML parameter document on top of the defaults.
func ParseParams(data []byte) (Params, *yaml.Node, error) {
	p := Defaults()
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return p, nil, err
	}
	if len(doc.Content) == 0 {
		return p, &doc, nil
	}
	if err := doc.Decode(&p); err != nil {
		return p, nil, err
	}
	return p, &doc, nil
}

// FieldError describes one invalid parameter.
type FieldError struct {
	Param string
	Rule  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("parameter %q %s", e.Param, ruleMessages[e.Rule])
}

var ruleMessages = map[string]string{
	"required":           "must not be empty",
	"notblank":           "must not be empty",
	"ad_domain":          "must be a DNS domain name or a NetBIOS domain name",
	"distinguished_name": "must be an LDAP distinguished name such as OU=Servers,DC=example,DC=com",
	"join_options":       "must be an unsigned integer bitmask that includes the domain join flag (1)",
	"secure_string":      "must be a ConvertFrom-SecureString export (hex) when secure_password is true",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("netbios_domain", func(fl validator.FieldLevel) bool {
		return netbiosPattern.MatchString(fl.Field().String())
	})
	v.RegisterAlias("ad_domain", "max=253,fqdn|netbios_domain")
	_ = v.RegisterValidation("distinguished_name", func(fl validator.FieldLevel) bool {
		return validDistinguishedName(fl.Field().String())
	})
	_ = v.RegisterValidation("join_options", func(fl validator.FieldLevel) bool {
		flags, err := ParseJoinFlags(fl.Field().String())
		return err == nil && flags.Has(JoinDomain)
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(Params)
		if p.SecurePassword && p.Password != "" && !secureStringPattern.MatchString(p.Password) {
			sl.ReportError(p.Password, "password", "Password", "secure_string", "")
		}
	}, Params{})
	return v
}

// Validate checks the parameters. All violations are reported, joined.
func (p Params) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating params: %w", err)
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, &FieldError{Param: fe.Field(), Rule: fe.Tag()})
	}
	return errors.Join(errs...)
}

var (
	netbiosPattern      = regexp.MustCompile(`^[^\\/:*?"<>|.\s]{1,15}$`)
	secureStringPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)
)

// validDistinguishedName reports whether s parses as an LDAP DN with at
// least one RDN and no empty attribute value.
func validDistinguishedName(s string) bool {
	dn, err := ldap.ParseDN(s)
	if err != nil || len(dn.RDNs) == 0 {
		return false
	}
	for _, rdn := range dn.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.TrimSpace(attr.Value) == "" {
				return false
			}
		}
	}
	return true
}
