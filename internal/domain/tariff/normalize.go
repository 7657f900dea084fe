package tariff

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultAliases maps the free-text room types seen on the ward master to
// the canonical names used by the tariff master.
var DefaultAliases = map[string]string{
	"icu":          "ICU",
	"icu ward":     "ICU",
	"iccu":         "ICU",
	"nicu":         "NICU",
	"picu":         "PICU",
	"hdu":          "HDU",
	"general":      "General",
	"general ward": "General",
	"gen ward":     "General",
	"semi private": "Semi-Private",
	"semi-private": "Semi-Private",
	"private":      "Private",
	"private room": "Private",
	"deluxe room":  "Deluxe",
	"suite":        "Suite",
	"isolation":    "Isolation",
}

// Normalizer canonicalizes room-type strings.
type Normalizer struct {
	aliases map[string]string
}

// NewNormalizer returns a normalizer over DefaultAliases extended (and
// overridden) by extra.
func NewNormalizer(extra map[string]string) *Normalizer {
	n := &Normalizer{aliases: make(map[string]string, len(DefaultAliases)+len(extra))}
	for k, v := range DefaultAliases {
		n.aliases[foldKey(k)] = v
	}
	for k, v := range extra {
		k, v = foldKey(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		n.aliases[k] = v
	}
	return n
}

// Normalize trims and collapses whitespace, case-folds, and maps known
// aliases. Unknown values come back title-cased so "deluxe" and "DELUXE"
// resolve to the same tariff row.
func (n *Normalizer) Normalize(raw string) string {
	key := foldKey(raw)
	if key == "" {
		return ""
	}
	if canonical, ok := n.aliases[key]; ok {
		return canonical
	}
	return cases.Title(language.English).String(key)
}

func foldKey(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}
