// Package canonical derives stable identity keys for extracted entities.
package canonical

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/diligence-cli/internal/model"
)

// stripMarks decomposes accented characters and removes combining marks, so
// "Société Générale" and "Societe Generale" normalize identically. Built per
// call: transform chains carry state and are not safe for concurrent use.
func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// corporateSuffixes are trailing legal-form tokens that vary across
// registries and filings without changing identity.
var corporateSuffixes = map[string]bool{
	"ltd": true, "limited": true, "llc": true, "llp": true, "lp": true,
	"inc": true, "incorporated": true, "corp": true, "corporation": true,
	"plc": true, "pjsc": true, "jsc": true, "oao": true, "ooo": true,
	"gmbh": true, "ag": true, "sa": true, "srl": true, "spa": true,
	"bv": true, "nv": true, "pty": true, "pvt": true,
	"co": true, "company": true, "holdings": true,
}

// Normalize reduces a name to its canonical spelling: Unicode-folded,
// lowercased, punctuation-free, single-spaced, with trailing corporate
// suffixes removed. Idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(name string) string {
	s, _, err := transform.String(stripMarks(), name)
	if err != nil {
		s = name
	}
	s = cases.Fold().String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	for len(tokens) > 1 && corporateSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// Key builds the canonical identity key for an entity within a transaction.
// The same observed string always yields the same key; distinct spellings
// are not merged across transactions.
func Key(name string, entityType model.EntityType) string {
	prefix := "org"
	if entityType == model.EntityPerson {
		prefix = "person"
	}
	n := Normalize(name)
	if n == "" {
		n = "unknown"
	}
	return prefix + ":" + n
}
