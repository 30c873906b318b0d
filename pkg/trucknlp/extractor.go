// Package trucknlp extracts commercial-vehicle make/model/year mentions from
// unstructured text. Listings and chat questions arrive in both Latin and
// Cyrillic spellings, so matching is token-based rather than regex
// word-boundary based (\b does not work for Cyrillic input).
package trucknlp

import (
	"strconv"
	"strings"
	"unicode"
)

// Match is one extracted vehicle mention.
type Match struct {
	Make       string  // canonical Latin make, e.g. "KAMAZ"
	Model      string  // e.g. "5490" (empty if not found)
	Year       int     // 0 if not found
	Confidence float64 // 0.0-1.0
}

// makeAliases maps lowercase spellings (Latin and Cyrillic) to canonical makes.
var makeAliases = map[string]string{
	"kamaz":    "KAMAZ",
	"камаз":    "KAMAZ",
	"maz":      "MAZ",
	"маз":      "MAZ",
	"gaz":      "GAZ",
	"газ":      "GAZ",
	"gazelle":  "GAZ",
	"газель":   "GAZ",
	"ural":     "Ural",
	"урал":     "Ural",
	"hyundai":  "Hyundai",
	"хендай":   "Hyundai",
	"isuzu":    "Isuzu",
	"исузу":    "Isuzu",
	"volvo":    "Volvo",
	"вольво":   "Volvo",
	"scania":   "Scania",
	"скания":   "Scania",
	"man":      "MAN",
	"ман":      "MAN",
	"mercedes": "Mercedes-Benz",
	"мерседес": "Mercedes-Benz",
	"daf":      "DAF",
	"даф":      "DAF",
	"iveco":    "Iveco",
	"ивеко":    "Iveco",
	"renault":  "Renault",
	"рено":     "Renault",
	"ford":     "Ford",
	"форд":     "Ford",
	"shacman":  "Shacman",
	"шакман":   "Shacman",
	"sitrak":   "Sitrak",
	"ситрак":   "Sitrak",
	"faw":      "FAW",
	"howo":     "HOWO",
	"хово":     "HOWO",
}

// makeModels lists known models per canonical make, lowercase key form.
var makeModels = map[string][]string{
	"KAMAZ":         {"5490", "54901", "65115", "65116", "43118", "65207", "6520", "kompas"},
	"MAZ":           {"5440", "6430", "6501", "5340", "4371", "6312"},
	"GAZ":           {"gazelle next", "gazon next", "sadko next", "valdai next", "next"},
	"Ural":          {"next", "4320", "6370"},
	"Hyundai":       {"hd35", "hd78", "hd120", "mighty", "porter", "xcient"},
	"Isuzu":         {"nmr85", "npr75", "nqr90", "elf", "forward", "giga"},
	"Volvo":         {"fh16", "fh", "fmx", "fm", "fl", "fe"},
	"Scania":        {"r-series", "s-series", "g-series", "p-series", "xt"},
	"MAN":           {"tgx", "tgs", "tgm", "tgl"},
	"Mercedes-Benz": {"actros", "arocs", "atego", "axor", "sprinter"},
	"DAF":           {"xf", "cf", "lf", "xg"},
	"Iveco":         {"daily", "eurocargo", "stralis", "s-way", "trakker"},
	"Renault":       {"master"},
	"Ford":          {"f-max", "cargo", "transit"},
	"Shacman":       {"x3000", "f3000", "x5000"},
	"Sitrak":        {"c7h", "t7h"},
	"FAW":           {"j6", "j7"},
	"HOWO":          {"a7", "t5g", "tx"},
}

// Extract finds vehicle mentions in text, highest confidence first.
func Extract(text string) []Match {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	var matches []Match
	seen := make(map[string]bool)

	for i, tok := range tokens {
		canonical, ok := makeAliases[tok]
		if !ok {
			continue
		}

		// Look for a known model in the next two tokens (models can be
		// two words, e.g. "gazelle next").
		model := findModel(canonical, tokens[i+1:])

		// Look for a plausible year within three tokens either side.
		year := findYear(tokens, i)

		conf := 0.60
		switch {
		case model != "" && year > 0:
			conf = 0.95
		case model != "":
			conf = 0.80
		case year > 0:
			conf = 0.70
		}

		key := canonical + "|" + model + "|" + strconv.Itoa(year)
		if seen[key] {
			continue
		}
		seen[key] = true
		matches = append(matches, Match{Make: canonical, Model: model, Year: year, Confidence: conf})
	}

	// Highest confidence first; stable for equal confidence.
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].Confidence > matches[i].Confidence {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}
	return matches
}

// ExtractBest returns the single highest-confidence match, or nil.
func ExtractBest(text string) *Match {
	matches := Extract(text)
	if len(matches) == 0 {
		return nil
	}
	return &matches[0]
}

// findModel matches the longest known model of make against the next tokens.
func findModel(make_ string, after []string) string {
	models := makeModels[make_]
	if len(after) == 0 {
		return ""
	}
	one := after[0]
	two := one
	if len(after) > 1 {
		two = one + " " + after[1]
	}
	best := ""
	for _, m := range models {
		if m == two {
			return canonicalModel(m)
		}
		if m == one && len(m) > len(best) {
			best = m
		}
	}
	if best == "" {
		return ""
	}
	return canonicalModel(best)
}

// canonicalModel restores display casing for the lowercase table form.
// Alphanumeric designations (hd78, tgx, x3000) are uppercased; word models
// are title-cased. Filter matching downstream is case-insensitive, so this
// only affects display.
func canonicalModel(m string) string {
	parts := strings.Fields(m)
	for i, p := range parts {
		hasDigit := strings.IndexFunc(p, unicode.IsDigit) >= 0
		if hasDigit || len([]rune(p)) <= 3 {
			parts[i] = strings.ToUpper(p)
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

func findYear(tokens []string, at int) int {
	lo := at - 3
	if lo < 0 {
		lo = 0
	}
	hi := at + 4
	if hi > len(tokens) {
		hi = len(tokens)
	}
	for _, tok := range tokens[lo:hi] {
		if len(tok) != 4 {
			continue
		}
		y, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		if y >= 1990 && y <= 2030 {
			return y
		}
	}
	return 0
}

// tokenize lowercases and splits text, trimming edge punctuation.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) && r != '-'
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
