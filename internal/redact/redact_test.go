package redact

import (
	"errors"
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactDefaultPatterns(t *testing.T) {
	r := Default()
	content := "Contact jane.doe@example.com or +1 415-555-0132 about the €1,250.00 invoice."

	res := r.Redact("req-1", content)

	assert.NotContains(t, res.Redacted, "jane.doe@example.com")
	assert.NotContains(t, res.Redacted, "415-555-0132")
	assert.NotContains(t, res.Redacted, "€1,250.00")
	assert.Contains(t, res.Redacted, "<<REDACTED:EMAIL:")
	assert.Contains(t, res.Redacted, "<<REDACTED:PHONE:")
	assert.Contains(t, res.Redacted, "<<REDACTED:MONEY:")
	assert.Equal(t, 3, res.Tokens.Len())

	out, err := res.Tokens.Rehydrate("req-1", res.Redacted)
	require.NoError(t, err)
	assert.Equal(t, content, out)
}

func TestRedactNoMatches(t *testing.T) {
	res := Default().Redact("req-1", "nothing sensitive here")
	assert.Equal(t, "nothing sensitive here", res.Redacted)
	assert.Equal(t, 0, res.Tokens.Len())
}

func TestIdenticalSubstringsShareToken(t *testing.T) {
	res := Default().Redact("req-1", "a@b.io wrote to c@d.io and a@b.io again")

	assert.Equal(t, 2, res.Tokens.Len())
	var tokenForA string
	for token, original := range res.Tokens.Entries() {
		if original == "a@b.io" {
			tokenForA = token
		}
	}
	require.NotEmpty(t, tokenForA)
	assert.Equal(t, 2, strings.Count(res.Redacted, tokenForA))
}

func TestRehydrateForeignRequest(t *testing.T) {
	res := Default().Redact("req-1", "mail me at a@b.io")

	_, err := res.Tokens.Rehydrate("req-2", res.Redacted)
	assert.True(t, errors.Is(err, ErrForeignTokenMap))
}

func TestDispose(t *testing.T) {
	res := Default().Redact("req-1", "mail me at a@b.io")
	res.Tokens.Dispose()

	assert.Equal(t, 0, res.Tokens.Len())
	_, err := res.Tokens.Rehydrate("req-1", res.Redacted)
	assert.True(t, errors.Is(err, ErrTokenMapDisposed))

	var nilMap *TokenMap
	nilMap.Dispose()
	_, err = nilMap.Rehydrate("req-1", "x")
	assert.True(t, errors.Is(err, ErrTokenMapDisposed))
}

func TestRehydrateResponseText(t *testing.T) {
	res := Default().Redact("req-1", "Invoice for a@b.io totals 300 EUR")

	// A provider response that reuses one token and adds new text.
	var emailToken string
	for token, original := range res.Tokens.Entries() {
		if original == "a@b.io" {
			emailToken = token
		}
	}
	require.NotEmpty(t, emailToken)

	out, err := res.Tokens.Rehydrate("req-1", "Sent reminder to "+emailToken+".")
	require.NoError(t, err)
	assert.Equal(t, "Sent reminder to a@b.io.", out)
}

func TestWithPattern(t *testing.T) {
	iban := regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)
	r := Default().WithPattern("iban", iban)

	assert.Equal(t, []string{"EMAIL", "PHONE", "MONEY", "IBAN"}, r.Patterns())
	assert.Equal(t, []string{"EMAIL", "PHONE", "MONEY"}, Default().Patterns())

	content := "Pay to FR7630006000011234567890189 please"
	res := r.Redact("req-1", content)
	assert.Contains(t, res.Redacted, "<<REDACTED:IBAN:")
	assert.NotContains(t, res.Redacted, "FR7630006000011234567890189")

	out, err := res.Tokens.Rehydrate("req-1", res.Redacted)
	require.NoError(t, err)
	assert.Equal(t, content, out)
}

func TestOverlappingMatchesKeepLongest(t *testing.T) {
	r := New(
		Pattern{Name: "short", Re: regexp.MustCompile(`abc`)},
		Pattern{Name: "long", Re: regexp.MustCompile(`abcdef`)},
		Pattern{Name: "tail", Re: regexp.MustCompile(`def`)},
	)
	res := r.Redact("req-1", "xx abcdef yy")

	require.Equal(t, 1, res.Tokens.Len())
	for _, original := range res.Tokens.Entries() {
		assert.Equal(t, "abcdef", original)
	}
	assert.Contains(t, res.Redacted, "<<REDACTED:LONG:")

	out, err := res.Tokens.Rehydrate("req-1", res.Redacted)
	require.NoError(t, err)
	assert.Equal(t, "xx abcdef yy", out)
}

func TestTokenNameSanitized(t *testing.T) {
	r := New(Pattern{Name: "credit card:>", Re: regexp.MustCompile(`\d{16}`)})
	assert.Equal(t, []string{"CREDIT_CARD__"}, r.Patterns())
}

func TestObserverCounts(t *testing.T) {
	got := map[string]int{}
	r := Default().WithObserver(func(pattern string, n int) { got[pattern] += n })

	r.Redact("req-1", "a@b.io, c@d.io and a@b.io cost $40")

	assert.Equal(t, 3, got["EMAIL"])
	assert.Equal(t, 1, got["MONEY"])
}

func TestRoundTripProperty(t *testing.T) {
	fragments := []string{
		"hello ", "a@b.io", " ", "+1 415-555-0132", "€12.50", "99 EUR", "$3",
		"<<REDACTED:EMAIL:", ">>", ":1>>", "<<", "ünïcødé ", "\n", "0123456789abcdef",
		"x@y.co.uk", "£", "1,000", "REDACTED",
	}
	r := Default()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		var b strings.Builder
		for n := rng.Intn(12); n > 0; n-- {
			b.WriteString(fragments[rng.Intn(len(fragments))])
		}
		content := b.String()

		res := r.Redact("req", content)
		out, err := res.Tokens.Rehydrate("req", res.Redacted)
		require.NoError(t, err)
		require.Equal(t, content, out, "round trip failed for %q (redacted %q)", content, res.Redacted)
	}
}

func TestNewTokenMapCopiesEntries(t *testing.T) {
	entries := map[string]string{"<<REDACTED:EMAIL:ab:1>>": "a@b.io"}
	m := NewTokenMap("req-1", entries)
	entries["<<REDACTED:EMAIL:ab:1>>"] = "changed"

	out, err := m.Rehydrate("req-1", "to <<REDACTED:EMAIL:ab:1>>")
	require.NoError(t, err)
	assert.Equal(t, "to a@b.io", out)
	assert.Equal(t, "req-1", m.RequestID())
}
