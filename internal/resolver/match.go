package resolver

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Pattern maps links matching Match (a regexp) to a request category.
type Pattern struct {
	Category string
	Match    string
}

type Matcher struct {
	categories []string
	res        []*regexp.Regexp
}

// NewMatcher compiles patterns in order; the first match wins.
func NewMatcher(patterns []Pattern) (*Matcher, error) {
	m := &Matcher{}
	for i, p := range patterns {
		re, err := regexp.Compile(p.Match)
		if err != nil {
			return nil, fmt.Errorf("pattern %d (%s): %w", i, p.Category, err)
		}
		m.categories = append(m.categories, strings.TrimSpace(p.Category))
		m.res = append(m.res, re)
	}
	return m, nil
}

// Match returns the category of link.
func (m *Matcher) Match(link string) (string, bool) {
	if m == nil {
		return "", false
	}
	for i, re := range m.res {
		if re.MatchString(link) {
			return m.categories[i], true
		}
	}
	return "", false
}

// Category is Match with ErrUnsupportedLink for unknown links.
func (m *Matcher) Category(link string) (string, error) {
	if c, ok := m.Match(link); ok {
		return c, nil
	}
	return "", ErrUnsupportedLink
}

// Categories lists the configured categories in pattern order, without duplicates.
func (m *Matcher) Categories() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.categories))
	for _, c := range m.categories {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
