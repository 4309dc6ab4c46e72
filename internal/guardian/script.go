package guardian

import (
	"fmt"
	"unicode"

	"golang.org/x/text/language"
)

// minLettersForLanguage skips the language check for outputs too short to
// judge.
const minLettersForLanguage = 40

// scriptTables maps ISO 15924 codes, as returned by language.Tag.Script, to
// the Unicode tables whose letters belong to that writing system.
var scriptTables = map[string][]*unicode.RangeTable{
	"Latn": {unicode.Latin},
	"Cyrl": {unicode.Cyrillic},
	"Grek": {unicode.Greek},
	"Arab": {unicode.Arabic},
	"Hebr": {unicode.Hebrew},
	"Deva": {unicode.Devanagari},
	"Beng": {unicode.Bengali},
	"Thai": {unicode.Thai},
	"Geor": {unicode.Georgian},
	"Armn": {unicode.Armenian},
	"Hang": {unicode.Hangul},
	"Kore": {unicode.Hangul, unicode.Han},
	"Hani": {unicode.Han},
	"Hans": {unicode.Han},
	"Hant": {unicode.Han},
	"Jpan": {unicode.Han, unicode.Hiragana, unicode.Katakana},
}

// namedScripts is the order in which a foreign letter is attributed to a
// script for the rationale.
var namedScripts = []struct {
	name  string
	table *unicode.RangeTable
}{
	{"Latin", unicode.Latin},
	{"Cyrillic", unicode.Cyrillic},
	{"Han", unicode.Han},
	{"Hiragana", unicode.Hiragana},
	{"Katakana", unicode.Katakana},
	{"Hangul", unicode.Hangul},
	{"Arabic", unicode.Arabic},
	{"Hebrew", unicode.Hebrew},
	{"Greek", unicode.Greek},
	{"Devanagari", unicode.Devanagari},
	{"Thai", unicode.Thai},
}

type scriptSet struct {
	name   string
	tables []*unicode.RangeTable
}

// expectedScripts resolves a BCP 47 tag to the writing systems its text uses.
// Latin letters are always accepted: code, paths and identifiers are Latin in
// every language.
func expectedScripts(tag string) (scriptSet, error) {
	if tag == "" {
		tag = "en"
	}
	t, err := language.Parse(tag)
	if err != nil {
		return scriptSet{}, fmt.Errorf("invalid project language %q: %w", tag, err)
	}
	script, _ := t.Script()
	code := script.String()

	tables, ok := scriptTables[code]
	if !ok {
		return scriptSet{}, fmt.Errorf("unsupported script %s for language %q", code, tag)
	}
	set := scriptSet{name: code, tables: tables}
	if code != "Latn" {
		set.tables = append(append([]*unicode.RangeTable{}, tables...), unicode.Latin)
	}
	return set, nil
}

// foreignRatio returns the share of letters in text outside the expected
// scripts, the name of the most common foreign script, and the number of
// letters counted.
func (s scriptSet) foreignRatio(text string) (float64, string, int) {
	letters, foreign := 0, 0
	byScript := make(map[string]int)

	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsOneOf(s.tables, r) {
			continue
		}
		foreign++
		name := "other"
		for _, ns := range namedScripts {
			if unicode.Is(ns.table, r) {
				name = ns.name
				break
			}
		}
		byScript[name]++
	}
	if letters == 0 {
		return 0, "", 0
	}

	top, topCount := "", 0
	for name, n := range byScript {
		if n > topCount || (n == topCount && name < top) {
			top, topCount = name, n
		}
	}
	return float64(foreign) / float64(letters), top, letters
}
