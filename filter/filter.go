package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Options captures the link filtering configuration.
type Options struct {
	Include []string
	Exclude []string
}

// Filter holds compiled regex patterns for narrowing a link set.
type Filter struct {
	includeMode bool
	excludeMode bool
	include     []*regexp.Regexp
	exclude     []*regexp.Regexp
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	include, err := compilePatterns(opts.Include)
	if err != nil {
		return nil, fmt.Errorf("compile include-url pattern: %w", err)
	}
	exclude, err := compilePatterns(opts.Exclude)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-url pattern: %w", err)
	}

	includeActive := len(include) > 0
	excludeActive := len(exclude) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode: includeActive,
		excludeMode: excludeActive,
		include:     include,
		exclude:     exclude,
	}, nil
}

// Active reports whether any pattern was configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode
}

// Allows returns true if the link passes the filter criteria.
func (f *Filter) Allows(link string) bool {
	if f.includeMode {
		return matchAny(f.include, link)
	}

	if f.excludeMode && matchAny(f.exclude, link) {
		return false
	}

	return true
}

// Apply splits links into kept and dropped, preserving order in both.
func (f *Filter) Apply(links []string) (kept, dropped []string) {
	kept = make([]string, 0, len(links))
	for _, link := range links {
		if f.Allows(link) {
			kept = append(kept, link)
		} else {
			dropped = append(dropped, link)
		}
	}
	return kept, dropped
}

// Patterns returns the configured patterns for logging.
func (f *Filter) Patterns() (include, exclude []string) {
	for _, re := range f.include {
		include = append(include, re.String())
	}
	for _, re := range f.exclude {
		exclude = append(exclude, re.String())
	}
	return include, exclude
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
