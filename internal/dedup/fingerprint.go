// Package dedup provides content-addressed identity for leads and
// resolved URLs. A fingerprint is inserted at most once; later work items
// carrying the same fingerprint are short-circuited without re-executing
// expensive stages.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/leadscout/internal/model"
)

// stripMarks removes diacritical marks so "José" and "Jose" fingerprint
// identically.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Entity computes the deterministic fingerprint of a candidate entity:
// sha256 over its normalized name plus locale. Entities without a resolved
// URL are identified by who and where they are.
func Entity(c model.Candidate) string {
	name := normalizeText(c.Name)
	locale := normalizeText(c.Region)
	return digest("entity\x00" + name + "\x00" + locale)
}

// URL computes the deterministic fingerprint of a resolved URL:
// sha256 over the canonicalized host and path. Scheme, port, query,
// fragment, and a leading www are identity-irrelevant.
func URL(raw string) string {
	return digest("url\x00" + CanonicalURL(raw))
}

// CanonicalURL reduces a URL to its identity form: lowercased host
// without www or port, plus the path with any trailing slash removed.
func CanonicalURL(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(s, "/")
	}

	host := u.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimPrefix(host, "www.")

	path := strings.TrimSuffix(u.Path, "/")
	return host + path
}

func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	// Collapse runs of whitespace and punctuation into single spaces.
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		} else {
			space = true
		}
	}
	return b.String()
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
