// Package lint reports risky join parameters and implements comment-based
// suppression of its findings in parameter files.
package lint

import (
	"fmt"
	"regexp"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

const (
	// allRules is the rule key of a suppression that silences every rule.
	allRules = "*"

	// allParams is the parameter key of a file-wide suppression.
	allParams = "*"
)

// Checker handles nolint and lint:ignore comment suppression.
type Checker struct {
	// suppressions maps parameter name to rule to suppression reason
	suppressions map[string]map[string]string
}

// Suppression represents a parsed suppression directive.
type Suppression struct {
	Rules  []string
	Reason string
	Type   SuppressionType
}

// SuppressionType represents different types of suppression comments.
type SuppressionType int

const (
	// SuppressionNolint represents # nolint:<rule> comments.
	SuppressionNolint SuppressionType = iota

	// SuppressionLintIgnore represents # lint:ignore <rule> comments.
	SuppressionLintIgnore
)

// Suppression patterns for different comment styles.
var (
	// nolintPattern matches # nolint:rule[,rule] comments
	nolintPattern = regexp.MustCompile(`#\s*nolint:([\w,\s-]+?)(?:\s+#\s*(.+))?\s*$`)

	// lintIgnorePattern matches # lint:ignore rule comments
	lintIgnorePattern = regexp.MustCompile(`#\s*lint:ignore\s+([\w-]+)(?:\s+(.+))?`)

	// genericNolintPattern matches # nolint comments without specific rule
	genericNolintPattern = regexp.MustCompile(`#\s*nolint(?:\s|$)`)
)

// NewChecker creates a new suppression checker.
func NewChecker() *Checker {
	return &Checker{
		suppressions: make(map[string]map[string]string),
	}
}

// Load parses suppression comments attached to the top-level keys of a
// parameter document. Comments on the line above a key and at the end of
// its line both apply to that key. A comment block at the top of the file
// separated from the first key by a blank line applies to every key.
func (sc *Checker) Load(doc *yaml.Node) error {
	if doc == nil {
		return fmt.Errorf("document cannot be nil")
	}
	root := doc
	if root.Kind == 0 {
		// empty document
		return nil
	}
	if root.Kind == yaml.DocumentNode {
		sc.addComments(allParams, root.HeadComment)
		if len(root.Content) == 0 {
			return nil
		}
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("parameter document must be a mapping, got %s", kindName(root.Kind))
	}
	sc.addComments(allParams, root.HeadComment)

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		sc.addComments(key.Value, key.HeadComment, key.LineComment, value.LineComment)
	}
	return nil
}

func (sc *Checker) addComments(param string, comments ...string) {
	for _, text := range comments {
		for line := range strings.SplitSeq(text, "\n") {
			if s := parseComment(line); s != nil {
				sc.add(param, s)
			}
		}
	}
}

func (sc *Checker) add(param string, s *Suppression) {
	rules, ok := sc.suppressions[param]
	if !ok {
		rules = make(map[string]string)
		sc.suppressions[param] = rules
	}
	reason := s.Reason
	if reason == "" {
		reason = "suppressed"
	}
	for _, rule := range s.Rules {
		rules[rule] = reason
	}
}

// parseComment parses a comment to check if it's a suppression directive.
func parseComment(text string) *Suppression {
	text = strings.TrimSpace(text)

	if matches := lintIgnorePattern.FindStringSubmatch(text); matches != nil {
		return &Suppression{
			Rules:  []string{matches[1]},
			Reason: strings.TrimSpace(matches[2]),
			Type:   SuppressionLintIgnore,
		}
	}

	if matches := nolintPattern.FindStringSubmatch(text); matches != nil {
		var rules []string
		for rule := range strings.SplitSeq(matches[1], ",") {
			if rule = strings.TrimSpace(rule); rule != "" {
				rules = append(rules, rule)
			}
		}
		if len(rules) > 0 {
			return &Suppression{
				Rules:  rules,
				Reason: strings.TrimSpace(matches[2]),
				Type:   SuppressionNolint,
			}
		}
	}

	if genericNolintPattern.MatchString(text) {
		return &Suppression{
			Rules: []string{allRules},
			Type:  SuppressionNolint,
		}
	}

	return nil
}

// IsSuppressed checks if rule is suppressed for the parameter, either by
// a comment on the parameter or by a file-wide comment.
func (sc *Checker) IsSuppressed(rule, param string) (bool, string) {
	if sc == nil {
		return false, ""
	}
	for _, key := range []string{param, allParams} {
		rules := sc.suppressions[key]
		if reason, ok := rules[rule]; ok {
			return true, reason
		}
		if reason, ok := rules[allRules]; ok {
			return true, reason
		}
	}
	return false, ""
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return fmt.Sprintf("kind %d", k)
	}
}
