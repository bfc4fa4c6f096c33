// Package text normalizes input text before it reaches a synthesis model.
//
// Abbreviations and integers are spelled out for the languages that have tables
// (English and German); every language gets reference removal, whitespace and
// punctuation cleanup. URLs and email addresses pass through untouched.
package text

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// NumberBaseTen represents the base for decimal number system.
	NumberBaseTen = 10
	// NumberBaseTwenty represents the boundary for teen numbers.
	NumberBaseTwenty = 20
	// NumberBaseHundred represents the base for hundreds.
	NumberBaseHundred = 100
	// NumberBaseThousand represents the base for thousands.
	NumberBaseThousand = 1000
	// MaxNumberForWords represents the maximum number that can be converted to words.
	MaxNumberForWords = 999999
)

// Supported language tables.
const (
	LanguageEnglish = "en"
	LanguageGerman  = "de"
)

// Regex patterns for text normalization.
const (
	tokenRegexPattern          = `https?://\S+|[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberRegexPattern         = `\d+(?:[.,]\d+)*`
	referenceRegexPattern      = `\[\d+\]|\(\d+\)|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	repeatedPunctRegexPattern  = `([!?])[!?]+`
	repeatedCommaRegexPattern  = `,{2,}`
	spaceBeforePunctRegexPat   = `\s+([.,!?;:])`
	whitespaceRegexPattern     = `\s+`
	closingRunesAfterSentences = `"')»«“”’`
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

var abbreviationTables = map[string][]string{
	LanguageEnglish: {
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"St.", "Saint",
		"e.g.", "for example",
		"i.e.", "that is",
		"etc.", "et cetera",
		"vs.", "versus",
	},
	LanguageGerman: {
		"z.B.", "zum Beispiel",
		"d.h.", "das heißt",
		"u.a.", "unter anderem",
		"usw.", "und so weiter",
		"bzw.", "beziehungsweise",
		"ca.", "circa",
		"Nr.", "Nummer",
		"Dr.", "Doktor",
		"Hr.", "Herr",
		"Fr.", "Frau",
		"Str.", "Straße",
	},
}

type abbreviations struct {
	pattern   *regexp.Regexp
	expansion map[string]string
}

func compileAbbreviations(pairs []string) abbreviations {
	expansion := make(map[string]string, len(pairs)/2)
	keys := make([]string, 0, len(pairs)/2)

	for i := 0; i+1 < len(pairs); i += 2 {
		expansion[pairs[i]] = pairs[i+1]
		keys = append(keys, regexp.QuoteMeta(pairs[i]))
	}

	// Longest first so "Mrs." is never read as "Mr." plus "s.".
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	return abbreviations{
		pattern:   regexp.MustCompile(`\b(?:` + strings.Join(keys, "|") + `)`),
		expansion: expansion,
	}
}

// Normalizer cleans text for synthesis. It is safe for concurrent use.
type Normalizer struct {
	tokenPattern            *regexp.Regexp
	numberPattern           *regexp.Regexp
	referencePattern        *regexp.Regexp
	repeatedPunctPattern    *regexp.Regexp
	repeatedCommaPattern    *regexp.Regexp
	spaceBeforePunctPattern *regexp.Regexp
	whitespacePattern       *regexp.Regexp
	quotesAndDashes         *strings.Replacer
	abbreviations           map[string]abbreviations
}

// NewNormalizer compiles the patterns and abbreviation tables.
func NewNormalizer() *Normalizer {
	tables := make(map[string]abbreviations, len(abbreviationTables))
	for language, pairs := range abbreviationTables {
		tables[language] = compileAbbreviations(pairs)
	}

	return &Normalizer{
		tokenPattern:            regexp.MustCompile(tokenRegexPattern),
		numberPattern:           regexp.MustCompile(numberRegexPattern),
		referencePattern:        regexp.MustCompile(referenceRegexPattern),
		repeatedPunctPattern:    regexp.MustCompile(repeatedPunctRegexPattern),
		repeatedCommaPattern:    regexp.MustCompile(repeatedCommaRegexPattern),
		spaceBeforePunctPattern: regexp.MustCompile(spaceBeforePunctRegexPat),
		whitespacePattern:       regexp.MustCompile(whitespaceRegexPattern),
		quotesAndDashes: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`, "„", `"`,
			"‘", "'", "’", "'",
		),
		abbreviations: tables,
	}
}

// BaseLanguage reduces a language tag such as "de-DE" to "de".
func BaseLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))

	base, _, _ := strings.Cut(strings.ReplaceAll(language, "_", "-"), "-")

	return base
}

// Normalize returns text ready for synthesis in language.
func (n *Normalizer) Normalize(text, language string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	language = BaseLanguage(language)

	var builder strings.Builder

	last := 0
	for _, loc := range n.tokenPattern.FindAllStringIndex(text, -1) {
		builder.WriteString(n.normalizePlain(text[last:loc[0]], language))
		builder.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}

	builder.WriteString(n.normalizePlain(text[last:], language))

	normalized := n.whitespacePattern.ReplaceAllString(builder.String(), " ")
	normalized = n.spaceBeforePunctPattern.ReplaceAllString(normalized, "$1")

	return ensureProperSentenceEnding(normalized)
}

// normalizePlain handles a stretch of text that contains no URL or email.
func (n *Normalizer) normalizePlain(text, language string) string {
	if text == "" {
		return text
	}

	text = n.referencePattern.ReplaceAllString(text, "")

	table, ok := n.abbreviations[language]
	if ok {
		text = table.pattern.ReplaceAllStringFunc(text, func(match string) string {
			return table.expansion[match]
		})
	}

	if language == LanguageEnglish || language == LanguageGerman {
		text = n.numberPattern.ReplaceAllStringFunc(text, func(match string) string {
			return NumberToWords(match, language)
		})
	}

	text = n.quotesAndDashes.Replace(text)
	text = n.repeatedPunctPattern.ReplaceAllString(text, "$1")

	return n.repeatedCommaPattern.ReplaceAllString(text, ",")
}

// ensureProperSentenceEnding appends a period unless the text already ends a
// sentence, looking through closing quotes and brackets.
func ensureProperSentenceEnding(text string) string {
	trimmedText := strings.TrimSpace(text)
	if trimmedText == "" {
		return ""
	}

	core := strings.TrimRight(trimmedText, closingRunesAfterSentences)
	if core == "" {
		return trimmedText
	}

	lastChar, _ := utf8.DecodeLastRuneInString(core)
	if !unicode.IsPunct(lastChar) {
		return trimmedText + "."
	}

	switch lastChar {
	case '.', '!', '?':
		return trimmedText
	default:
		return trimmedText + "."
	}
}

// NumberToWords spells out a run of digits. Values with separators, values
// above MaxNumberForWords and languages without a table are returned unchanged.
func NumberToWords(digits, language string) string {
	number, err := strconv.Atoi(digits)
	if err != nil || number < 0 || number > MaxNumberForWords {
		return digits
	}

	switch BaseLanguage(language) {
	case LanguageEnglish:
		return englishWords(number)
	case LanguageGerman:
		return germanWords(number)
	default:
		return digits
	}
}

var (
	englishOnes = []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	englishTeens = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	englishTens = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}

	germanOnes = []string{
		"", "eins", "zwei", "drei", "vier", "fünf",
		"sechs", "sieben", "acht", "neun",
	}
	germanTeens = []string{
		"zehn", "elf", "zwölf", "dreizehn", "vierzehn",
		"fünfzehn", "sechzehn", "siebzehn", "achtzehn", "neunzehn",
	}
	germanTens = []string{
		"", "", "zwanzig", "dreißig", "vierzig", "fünfzig",
		"sechzig", "siebzig", "achtzig", "neunzig",
	}
)

func englishUnderHundred(num int) string {
	switch {
	case num < NumberBaseTen:
		return englishOnes[num]
	case num < NumberBaseTwenty:
		return englishTeens[num-NumberBaseTen]
	}

	result := englishTens[num/NumberBaseTen]
	if num%NumberBaseTen > 0 {
		result += " " + englishOnes[num%NumberBaseTen]
	}

	return result
}

func englishUnderThousand(num int) string {
	var parts []string

	if hundreds := num / NumberBaseHundred; hundreds > 0 {
		parts = append(parts, englishOnes[hundreds]+" hundred")
	}

	if remainder := num % NumberBaseHundred; remainder > 0 {
		parts = append(parts, englishUnderHundred(remainder))
	}

	return strings.Join(parts, " ")
}

func englishWords(number int) string {
	if number == 0 {
		return "zero"
	}

	var parts []string

	if thousands := number / NumberBaseThousand; thousands > 0 {
		parts = append(parts, englishUnderThousand(thousands)+" thousand")
	}

	if remainder := number % NumberBaseThousand; remainder > 0 {
		parts = append(parts, englishUnderThousand(remainder))
	}

	return strings.Join(parts, " ")
}

// germanStem is the digit form used inside compounds ("ein" in einundzwanzig).
func germanStem(digit int) string {
	if digit == 1 {
		return "ein"
	}

	return germanOnes[digit]
}

// germanUnderHundred spells num; final selects "eins" over "ein" for a trailing one.
func germanUnderHundred(num int, final bool) string {
	switch {
	case num == 1 && !final:
		return "ein"
	case num < NumberBaseTen:
		return germanOnes[num]
	case num < NumberBaseTwenty:
		return germanTeens[num-NumberBaseTen]
	}

	unit := num % NumberBaseTen
	if unit == 0 {
		return germanTens[num/NumberBaseTen]
	}

	return germanStem(unit) + "und" + germanTens[num/NumberBaseTen]
}

func germanUnderThousand(num int, final bool) string {
	var result string

	if hundreds := num / NumberBaseHundred; hundreds > 0 {
		result = germanStem(hundreds) + "hundert"
	}

	if remainder := num % NumberBaseHundred; remainder > 0 {
		result += germanUnderHundred(remainder, final)
	}

	return result
}

func germanWords(number int) string {
	if number == 0 {
		return "null"
	}

	var result string

	if thousands := number / NumberBaseThousand; thousands > 0 {
		result = germanUnderThousand(thousands, false) + "tausend"
	}

	if remainder := number % NumberBaseThousand; remainder > 0 {
		result += germanUnderThousand(remainder, true)
	}

	return result
}
