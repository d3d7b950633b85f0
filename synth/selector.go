package synth

import (
	"fmt"
	"regexp"
	"strings"
)

// Element describes a page element the generated test interacts with.
type Element struct {
	Tag         string
	Type        string
	Role        string
	AriaLabel   string
	ID          string
	Name        string
	Placeholder string
	Text        string
	Classes     []string
	DataAttrs   map[string]string
}

// dataTestAttrs are recognized test-hook attributes, in preference order.
var dataTestAttrs = []string{"data-testid", "data-cy", "data-test", "data-e2e", "data-qa"}

// dynamicClassRes reject generated class names that would not survive a
// rebuild: hash-like strings, long tokens, embedded counters, and tooling
// prefixes.
var dynamicClassRes = []*regexp.Regexp{
	regexp.MustCompile(`^[a-f0-9]{8,}$`),
	regexp.MustCompile(`^\w{32,}$`),
	regexp.MustCompile(`\d{4,}`),
	regexp.MustCompile(`^js-`),
	regexp.MustCompile(`^react-`),
}

// SelectorChain produces locators for |el| in strict preference order:
// role/ARIA, data-test attributes, semantic attributes, a CSS fallback, and
// an XPath-derived fallback. Earlier selectors are tried first at runtime.
func SelectorChain(el Element) []string {
	var out []string

	// 1. Role and ARIA.
	var role = el.Role
	if role == "" {
		role = inferRole(el)
	}
	if role != "" {
		if el.AriaLabel != "" {
			out = append(out, fmt.Sprintf(`[role=%q][aria-label=%q]`, role, el.AriaLabel))
		} else {
			out = append(out, fmt.Sprintf(`[role=%q]`, role))
		}
	} else if el.AriaLabel != "" {
		out = append(out, fmt.Sprintf(`[aria-label=%q]`, el.AriaLabel))
	}

	// 2. Data-test attributes.
	for _, attr := range dataTestAttrs {
		if v, ok := el.DataAttrs[attr]; ok && v != "" {
			out = append(out, fmt.Sprintf(`[%s=%q]`, attr, v))
		}
	}

	// 3. Semantic attributes.
	if el.ID != "" {
		out = append(out, "#"+el.ID)
	}
	if el.Name != "" {
		out = append(out, fmt.Sprintf(`%s[name=%q]`, el.Tag, el.Name))
	}
	if el.Placeholder != "" {
		out = append(out, fmt.Sprintf(`[placeholder=%q]`, el.Placeholder))
	}
	if el.Text != "" {
		out = append(out, fmt.Sprintf(`%s:has-text(%q)`, el.Tag, el.Text))
	}

	// 4. CSS fallback on a stable class.
	if cls := firstStableClass(el.Classes); cls != "" {
		out = append(out, fmt.Sprintf("%s.%s", el.Tag, cls))
	}

	// 5. XPath-derived contains-attribute fallback, expressed as CSS.
	if el.Type != "" {
		out = append(out, fmt.Sprintf(`%s[type*=%q]`, el.Tag, el.Type))
	} else if el.Tag != "" {
		out = append(out, el.Tag)
	}
	return dedupe(out)
}

// ChainExpression renders the runtime then-try combinator: each fallback
// locator applies only when the prior ones resolve nothing.
func ChainExpression(selectors []string) string {
	if len(selectors) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "page.locator('%s')", escapeSingle(selectors[0]))
	for _, s := range selectors[1:] {
		fmt.Fprintf(&b, ".or(page.locator('%s'))", escapeSingle(s))
	}
	return b.String()
}

func inferRole(el Element) string {
	switch {
	case el.Tag == "button", el.Tag == "input" && (el.Type == "submit" || el.Type == "button"):
		return "button"
	case el.Tag == "a":
		return "link"
	case el.Tag == "select":
		return "combobox"
	case el.Tag == "textarea":
		return "textbox"
	case el.Tag == "input" && (el.Type == "" || el.Type == "text" || el.Type == "email" || el.Type == "password"):
		return "textbox"
	case el.Tag == "input" && el.Type == "checkbox":
		return "checkbox"
	default:
		return ""
	}
}

func firstStableClass(classes []string) string {
	for _, cls := range classes {
		var dynamic = false
		for _, re := range dynamicClassRes {
			if re.MatchString(cls) {
				dynamic = true
				break
			}
		}
		if !dynamic && cls != "" {
			return cls
		}
	}
	return ""
}

func dedupe(in []string) []string {
	var seen = make(map[string]struct{}, len(in))
	var out = in[:0]
	for _, s := range in {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func escapeSingle(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}
