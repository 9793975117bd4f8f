package core

import (
	"fmt"
	"strings"
)

// Selector describes how to locate an element. Fields are consulted in
// declaration order and the first non-empty one wins; the rest are ignored.
type Selector struct {
	TestID          string `json:"testId,omitempty" yaml:"testId,omitempty"`
	AccessibilityID string `json:"accessibilityId,omitempty" yaml:"accessibilityId,omitempty"`
	ResourceID      string `json:"resourceId,omitempty" yaml:"resourceId,omitempty"` // Android
	Text            string `json:"text,omitempty" yaml:"text,omitempty"`
	TextContains    string `json:"textContains,omitempty" yaml:"textContains,omitempty"`
	XPath           string `json:"xpath,omitempty" yaml:"xpath,omitempty"`
	CSS             string `json:"css,omitempty" yaml:"css,omitempty"`                 // Web
	ClassChain      string `json:"classChain,omitempty" yaml:"classChain,omitempty"`   // iOS
	Predicate       string `json:"predicate,omitempty" yaml:"predicate,omitempty"`     // iOS
	UIAutomator     string `json:"uiautomator,omitempty" yaml:"uiautomator,omitempty"` // Android
	Role            string `json:"role,omitempty" yaml:"role,omitempty"`               // macOS, Linux
	Description     string `json:"description,omitempty" yaml:"description,omitempty"` // Linux
}

// SelectorKind names the selector field that determines the strategy.
type SelectorKind int

const (
	SelectorNone SelectorKind = iota
	SelectorTestID
	SelectorAccessibilityID
	SelectorResourceID
	SelectorText
	SelectorTextContains
	SelectorXPath
	SelectorCSS
	SelectorClassChain
	SelectorPredicate
	SelectorUIAutomator
	SelectorRole
	SelectorDescription
)

// String returns the field name of the kind.
func (k SelectorKind) String() string {
	switch k {
	case SelectorTestID:
		return "testId"
	case SelectorAccessibilityID:
		return "accessibilityId"
	case SelectorResourceID:
		return "resourceId"
	case SelectorText:
		return "text"
	case SelectorTextContains:
		return "textContains"
	case SelectorXPath:
		return "xpath"
	case SelectorCSS:
		return "css"
	case SelectorClassChain:
		return "classChain"
	case SelectorPredicate:
		return "predicate"
	case SelectorUIAutomator:
		return "uiautomator"
	case SelectorRole:
		return "role"
	case SelectorDescription:
		return "description"
	default:
		return "none"
	}
}

// Primary returns the first non-empty field and its value.
func (s Selector) Primary() (SelectorKind, string) {
	fields := []struct {
		kind  SelectorKind
		value string
	}{
		{SelectorTestID, s.TestID},
		{SelectorAccessibilityID, s.AccessibilityID},
		{SelectorResourceID, s.ResourceID},
		{SelectorText, s.Text},
		{SelectorTextContains, s.TextContains},
		{SelectorXPath, s.XPath},
		{SelectorCSS, s.CSS},
		{SelectorClassChain, s.ClassChain},
		{SelectorPredicate, s.Predicate},
		{SelectorUIAutomator, s.UIAutomator},
		{SelectorRole, s.Role},
		{SelectorDescription, s.Description},
	}
	for _, f := range fields {
		if f.value != "" {
			return f.kind, f.value
		}
	}
	return SelectorNone, ""
}

// IsEmpty reports whether no field is set.
func (s Selector) IsEmpty() bool {
	kind, _ := s.Primary()
	return kind == SelectorNone
}

// String returns a short human-readable form, e.g. testId="login".
func (s Selector) String() string {
	kind, value := s.Primary()
	if kind == SelectorNone {
		return "<empty selector>"
	}
	return fmt.Sprintf("%s=%q", kind, value)
}

// Locator is a selector translated into a bridge's (strategy, value) pair.
type Locator struct {
	Strategy string
	Value    string
}

// UnsupportedSelector builds the InvalidSelector error for a selector the
// platform cannot express.
func UnsupportedSelector(p Platform, sel Selector) error {
	kind, _ := sel.Primary()
	if kind == SelectorNone {
		return ErrInvalidSelector.WithMessage("selector has no fields set")
	}
	return ErrInvalidSelector.
		WithMessage(fmt.Sprintf("%s selectors are not supported on %s", kind, p)).
		WithDetails(map[string]interface{}{"platform": string(p), "selector": sel.String()})
}

// QuoteString escapes backslashes and double quotes for embedding a value in
// a generated selector expression.
func QuoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// XPathLiteral quotes s as an XPath 1.0 string literal. XPath has no escape
// sequences, so values holding both quote kinds are built with concat().
func XPathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
