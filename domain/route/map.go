// Package route maps request URLs to action targets.
//
// A Map is an ordered list of rules scanned linearly; the first match wins, so
// precedence is expressed by rule order. Three kinds of pattern exist:
//
//	user/view/{id}     prefix: fragments compared in order, {name} captures
//	action/two//       strict: like prefix, but the fragment counts must match
//	/user\/([a-z]+)/   regex: unanchored, groups stored under "url_pattern"
//
// Patterns are relative to the mount point and do not start with a slash. The
// empty pattern only matches the empty URL.
package route

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/rsesek/hoplite/domain/web"
	"github.com/rsesek/hoplite/pkg/textcase"
)

// PatternKey is the request data key holding regex match groups.
const PatternKey = "url_pattern"

// ErrBadPattern is returned for patterns that cannot be compiled.
var ErrBadPattern = errors.New("bad route pattern")

// Kind is the kind of a rule pattern.
type Kind int

const (
	KindPrefix Kind = iota
	KindStrict
	KindRegex
)

func (k Kind) String() string {
	switch k {
	case KindStrict:
		return "strict"
	case KindRegex:
		return "regex"
	default:
		return "prefix"
	}
}

// Rule binds a URL pattern to an action target.
type Rule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Target  string `yaml:"target" json:"target"`
}

type compiledRule struct {
	rule      Rule
	kind      Kind
	fragments []string       // For prefix and strict rules
	regex     *regexp.Regexp // For regex rules
}

// Map is an ordered URL map. It is not safe for concurrent mutation; build it
// once and share it read-only.
type Map struct {
	rules []compiledRule
}

// New builds a map from rules, in order.
func New(rules ...Rule) (*Map, error) {
	m := &Map{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		if err := m.Add(r.Pattern, r.Target); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew is like New but panics on a bad pattern.
func MustNew(rules ...Rule) *Map {
	m, err := New(rules...)
	if err != nil {
		panic(err)
	}
	return m
}

// Add appends a rule. Rules added later have lower precedence.
func (m *Map) Add(pattern, target string) error {
	cr, err := compileRule(Rule{Pattern: pattern, Target: target})
	if err != nil {
		return err
	}
	m.rules = append(m.rules, cr)
	return nil
}

// Rules returns the rules in evaluation order.
func (m *Map) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	for i, cr := range m.rules {
		out[i] = cr.rule
	}
	return out
}

// KindOf reports how pattern would be interpreted.
func KindOf(pattern string) Kind {
	switch {
	case isRegex(pattern):
		return KindRegex
	case strings.HasSuffix(pattern, "//"):
		return KindStrict
	default:
		return KindPrefix
	}
}

var regexRule = regexp.MustCompile(`^/(.*)/([imsU]*)$`)

func isRegex(pattern string) bool {
	return len(pattern) >= 2 && regexRule.MatchString(pattern)
}

func compileRule(r Rule) (compiledRule, error) {
	cr := compiledRule{rule: r, kind: KindOf(r.Pattern)}

	switch cr.kind {
	case KindRegex:
		parts := regexRule.FindStringSubmatch(r.Pattern)
		expr := parts[1]
		if parts[2] != "" {
			expr = "(?" + parts[2] + ")" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return cr, fmt.Errorf("%w: %q: %v", ErrBadPattern, r.Pattern, err)
		}
		cr.regex = re

	case KindStrict:
		cr.fragments = strings.Split(strings.TrimSuffix(r.Pattern, "//"), "/")

	case KindPrefix:
		if r.Pattern != "" {
			cr.fragments = strings.Split(r.Pattern, "/")
		}
	}

	for _, f := range cr.fragments {
		if strings.HasPrefix(f, "{") != strings.HasSuffix(f, "}") {
			return cr, fmt.Errorf("%w: %q: unbalanced parameter %q", ErrBadPattern, r.Pattern, f)
		}
		if f == "{}" {
			return cr, fmt.Errorf("%w: %q: empty parameter name", ErrBadPattern, r.Pattern)
		}
	}
	return cr, nil
}

// Evaluate finds the first rule matching req.URL and returns its target.
// Parameters extracted by the matching rule are written into req.Data; the
// request is left untouched when nothing matches.
func (m *Map) Evaluate(req *web.Request) (string, bool) {
	url := req.URL
	var urlFragments []string
	if url != "" {
		urlFragments = strings.Split(url, "/")
	}

	for _, cr := range m.rules {
		switch cr.kind {
		case KindRegex:
			if groups := matchRegex(cr.regex, url); groups != nil {
				req.Data[PatternKey] = groups
				return cr.rule.Target, true
			}

		default:
			if cr.rule.Pattern == "" {
				if url == "" {
					return cr.rule.Target, true
				}
				continue
			}
			if params, ok := matchFragments(cr, urlFragments); ok {
				for k, v := range params {
					req.Data[k] = v
				}
				return cr.rule.Target, true
			}
		}
	}
	return "", false
}

// matchFragments compares the rule's fragments to the URL's. Captured
// parameters are returned rather than written so a partial match leaves no
// trace.
func matchFragments(cr compiledRule, url []string) (map[string]string, bool) {
	if len(url) < len(cr.fragments) {
		return nil, false
	}
	if cr.kind == KindStrict && len(url) != len(cr.fragments) {
		return nil, false
	}

	var params map[string]string
	for i, f := range cr.fragments {
		if name, ok := paramName(f); ok {
			if params == nil {
				params = make(map[string]string)
			}
			params[name] = url[i]
			continue
		}
		if f != url[i] {
			return nil, false
		}
	}
	return params, true
}

func paramName(fragment string) (string, bool) {
	if len(fragment) > 2 && fragment[0] == '{' && fragment[len(fragment)-1] == '}' {
		return fragment[1 : len(fragment)-1], true
	}
	return "", false
}

// matchRegex returns the full match followed by the groups. Groups that did
// not participate at the end are dropped; those in the middle are empty.
func matchRegex(re *regexp.Regexp, url string) []string {
	idx := re.FindStringSubmatchIndex(url)
	if idx == nil {
		return nil
	}
	n := len(idx) / 2
	for n > 1 && idx[2*(n-1)] < 0 {
		n--
	}
	groups := make([]string, n)
	for i := 0; i < n; i++ {
		if idx[2*i] >= 0 {
			groups[i] = url[idx[2*i]:idx[2*i+1]]
		}
	}
	return groups
}

// Reverse returns the pattern of the first rule routing to target.
func (m *Map) Reverse(target string) (string, bool) {
	for _, cr := range m.rules {
		if cr.rule.Target == target {
			return cr.rule.Pattern, true
		}
	}
	return "", false
}

// ActionName converts a rule target into an action name. Targets that start
// with an upper case letter already name an action. Anything else is a path
// whose last component, without extension, is converted from under_score to
// CamelCase with an "Action" suffix:
//
//	lost_password            LostPasswordAction
//	actions/test_action.php  TestAction
func ActionName(target string) string {
	if target == "" {
		return ""
	}
	if unicode.IsUpper(rune(target[0])) {
		return target
	}
	base := path.Base(target)
	base = strings.TrimSuffix(base, path.Ext(base))
	name := textcase.UnderscoreToCamelCase(base, true)
	if !strings.HasSuffix(name, "Action") {
		name += "Action"
	}
	return name
}
