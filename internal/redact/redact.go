// Package redact replaces sensitive substrings with opaque tokens before
// content leaves the trusted boundary, and restores them in the response.
package redact

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const tokenPrefix = "<<REDACTED:"

// Pattern names a class of sensitive data and the expression that finds it.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\+?\b\d{1,3}[\s.-]?\(?\d{2,4}\)?[\s.-]?\d{3,4}[\s.-]?\d{3,4}\b`)
	moneyPattern = regexp.MustCompile(`[€$£]\s?\d+(?:[.,]\d+)*|\b\d+(?:[.,]\d+)*\s?(?:EUR|USD|GBP|€)`)
)

// DefaultPatterns returns the built-in pattern set: e-mail addresses, phone
// numbers and monetary amounts.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "EMAIL", Re: emailPattern},
		{Name: "PHONE", Re: phonePattern},
		{Name: "MONEY", Re: moneyPattern},
	}
}

// Observer is notified with the number of substrings each pattern replaced.
type Observer func(pattern string, count int)

// Redactor tokenizes content. It is immutable and safe for concurrent use.
type Redactor struct {
	patterns []Pattern
	observer Observer
}

// New builds a Redactor from an explicit pattern list. Earlier patterns win
// when two matches start at the same offset with the same length.
func New(patterns ...Pattern) *Redactor {
	r := &Redactor{}
	for _, p := range patterns {
		if p.Re == nil {
			continue
		}
		r.patterns = append(r.patterns, Pattern{Name: tokenName(p.Name), Re: p.Re})
	}
	return r
}

// Default returns a Redactor using DefaultPatterns.
func Default() *Redactor {
	return New(DefaultPatterns()...)
}

// WithPattern returns a copy of r that also matches re under name.
func (r *Redactor) WithPattern(name string, re *regexp.Regexp) *Redactor {
	patterns := append(append([]Pattern(nil), r.patterns...), Pattern{Name: name, Re: re})
	out := New(patterns...)
	out.observer = r.observer
	return out
}

// WithObserver returns a copy of r that reports replacement counts to o.
func (r *Redactor) WithObserver(o Observer) *Redactor {
	return &Redactor{patterns: r.patterns, observer: o}
}

// Patterns lists the pattern names in evaluation order.
func (r *Redactor) Patterns() []string {
	names := make([]string, len(r.patterns))
	for i, p := range r.patterns {
		names[i] = p.Name
	}
	return names
}

// Result is the output of one Redact call.
type Result struct {
	Redacted string
	Tokens   *TokenMap
}

type span struct {
	start, end int
	pattern    int
}

// Redact replaces every match in content with a token of the form
// <<REDACTED:NAME:nonce:n>>. The nonce is random per call and never occurs
// in content, so rehydration cannot alter text that was not a token.
// Identical substrings share one token.
func (r *Redactor) Redact(requestID, content string) Result {
	tm := NewTokenMap(requestID, nil)

	var spans []span
	for i, p := range r.patterns {
		for _, m := range p.Re.FindAllStringIndex(content, -1) {
			if m[1] > m[0] {
				spans = append(spans, span{start: m[0], end: m[1], pattern: i})
			}
		}
	}
	if len(spans) == 0 {
		return Result{Redacted: content, Tokens: tm}
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end-spans[i].start > spans[j].end-spans[j].start
	})

	nonce := newNonce(content)
	byOriginal := make(map[string]string)
	counts := make(map[string]int)

	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for _, s := range spans {
		if s.start < pos {
			continue // overlaps an earlier, longer match
		}
		original := content[s.start:s.end]
		token, ok := byOriginal[original]
		if !ok {
			name := r.patterns[s.pattern].Name
			token = fmt.Sprintf("%s%s:%s:%d>>", tokenPrefix, name, nonce, len(byOriginal)+1)
			byOriginal[original] = token
			tm.tokens[token] = original
		}
		counts[r.patterns[s.pattern].Name]++
		b.WriteString(content[pos:s.start])
		b.WriteString(token)
		pos = s.end
	}
	b.WriteString(content[pos:])

	if r.observer != nil {
		for name, n := range counts {
			r.observer(name, n)
		}
	}
	return Result{Redacted: b.String(), Tokens: tm}
}

func newNonce(content string) string {
	for {
		u := uuid.New()
		nonce := hex.EncodeToString(u[:8])
		if !strings.Contains(content, nonce) {
			return nonce
		}
	}
}

// tokenName upper-cases name and replaces anything outside [A-Z0-9_] so the
// token grammar stays unambiguous.
func tokenName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return "CUSTOM"
	}
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			return r
		}
		return '_'
	}, name)
}
