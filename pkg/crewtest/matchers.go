// SPDX-License-Identifier: Apache-2.0

package crewtest

import (
	"fmt"
	"regexp"
	"strings"
)

// StringMatcher matches message text.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains matches text containing substr.
func Contains(substr string) StringMatcher {
	return matcherFunc{func(s string) bool { return strings.Contains(s, substr) }, fmt.Sprintf("contains %q", substr)}
}

// Equals matches text equal to expected.
func Equals(expected string) StringMatcher {
	return matcherFunc{func(s string) bool { return s == expected }, fmt.Sprintf("equals %q", expected)}
}

// HasPrefix matches text starting with prefix.
func HasPrefix(prefix string) StringMatcher {
	return matcherFunc{func(s string) bool { return strings.HasPrefix(s, prefix) }, fmt.Sprintf("starts with %q", prefix)}
}

// Regex matches text against pattern. An invalid pattern matches nothing.
func Regex(pattern string) StringMatcher {
	re, err := regexp.Compile(pattern)
	return matcherFunc{func(s string) bool { return err == nil && re.MatchString(s) }, fmt.Sprintf("matches /%s/", pattern)}
}

type matcherFunc struct {
	fn   func(string) bool
	desc string
}

func (m matcherFunc) Match(s string) bool   { return m.fn(s) }
func (m matcherFunc) Description() string { return m.desc }
