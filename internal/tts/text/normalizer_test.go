package text_test

import (
	"testing"

	"github.com/book-expert/audio-service/internal/tts/text"
)

// normalizerTestCase defines a standard test case for the normalizer.
type normalizerTestCase struct {
	name     string
	input    string
	expected string
}

// runNormalizerTests runs table-driven tests for one language.
func runNormalizerTests(t *testing.T, language string, tests []normalizerTestCase) {
	t.Helper()

	normalizer := text.NewNormalizer()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			result := normalizer.Normalize(testCase.input, language)
			if result != testCase.expected {
				t.Errorf("Expected %q, got %q", testCase.expected, result)
			}
		})
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	for _, input := range []string{"", "   ", "\n\t"} {
		result := normalizer.Normalize(input, "de")
		if result != "" {
			t.Errorf("Expected empty string for %q, got %q", input, result)
		}
	}
}

func TestNormalize_English(t *testing.T) {
	t.Parallel()

	runNormalizerTests(t, "en", []normalizerTestCase{
		{name: "basic text", input: "Hello world", expected: "Hello world."},
		{name: "Mr expansion", input: "Mr. Smith", expected: "Mister Smith."},
		{name: "Mrs is not Mr", input: "Mr. and Mrs. Smith", expected: "Mister and Misses Smith."},
		{name: "single digit", input: "There are 3 cars.", expected: "There are three cars."},
		{name: "teen", input: "I have 17 friends.", expected: "I have seventeen friends."},
		{name: "two digits", input: "The answer is 42.", expected: "The answer is forty two."},
		{name: "hundred", input: "He has 100 dollars.", expected: "He has one hundred dollars."},
		{name: "thousand", input: "About 5000 people attended.", expected: "About five thousand people attended."},
		{
			name:     "maximum number",
			input:    "The max value is 999999.",
			expected: "The max value is nine hundred ninety nine thousand nine hundred ninety nine.",
		},
		{name: "over the limit", input: "A million is 1000000.", expected: "A million is 1000000."},
		{name: "decimal left alone", input: "Version 3.5 is out", expected: "Version 3.5 is out."},
	})
}

func TestNormalize_German(t *testing.T) {
	t.Parallel()

	runNormalizerTests(t, "de-DE", []normalizerTestCase{
		{
			name:     "abbreviations and numbers",
			input:    "Das kostet ca. 21 Euro, z.B. heute.",
			expected: "Das kostet circa einundzwanzig Euro, zum Beispiel heute.",
		},
		{name: "year", input: "Im Jahr 2024 war alles anders", expected: "Im Jahr zweitausendvierundzwanzig war alles anders."},
		{name: "umlauts survive", input: "Schön, dass du da bist!", expected: "Schön, dass du da bist!"},
		{name: "German quotes", input: "Sie sagte „Hallo.“", expected: `Sie sagte "Hallo."`},
	})
}

func TestNormalize_TokenPreservation(t *testing.T) {
	t.Parallel()

	runNormalizerTests(t, "en", []normalizerTestCase{
		{
			name:     "URL only",
			input:    "Please visit https://example.com for more info.",
			expected: "Please visit https://example.com for more info.",
		},
		{
			name:     "Email only",
			input:    "Contact us at support@example.org.",
			expected: "Contact us at support@example.org.",
		},
		{
			name:     "URL and email mixed with other processing",
			input:    "Mr. Doe's site is http://johndoe.com, email him at john.doe@email.com for 1 copy.",
			expected: "Mister Doe's site is http://johndoe.com, email him at john.doe@email.com for one copy.",
		},
		{
			name:     "digits inside URLs stay digits",
			input:    "Open http://host:8100/health now",
			expected: "Open http://host:8100/health now.",
		},
	})
}

func TestNormalize_ReferencesAndFormatting(t *testing.T) {
	t.Parallel()

	runNormalizerTests(t, "en", []normalizerTestCase{
		{name: "bracketed reference", input: "This is a statement [1].", expected: "This is a statement."},
		{name: "parenthetical reference", input: "This is another statement (2).", expected: "This is another statement."},
		{name: "superscript reference", input: "A third statement¹.", expected: "A third statement."},
		{name: "multiple spaces", input: "Hello   world", expected: "Hello world."},
		{name: "tabs and newlines", input: "Line 1\nand\tline 2.", expected: "Line one and line two."},
		{name: "smart quotes", input: "He said, “Hello.”", expected: `He said, "Hello."`},
		{
			name:     "dashes",
			input:    "This is a range (1–5) — it's important.",
			expected: "This is a range (one-five) - it's important.",
		},
		{name: "excessive punctuation", input: "Hello!!! How are you??", expected: "Hello! How are you?"},
		{name: "already final", input: "Are you sure?", expected: "Are you sure?"},
	})
}

func TestNormalize_UnknownLanguageKeepsDigits(t *testing.T) {
	t.Parallel()

	runNormalizerTests(t, "fr", []normalizerTestCase{
		{name: "digits kept", input: "Il y a 3 chats", expected: "Il y a 3 chats."},
		{name: "references still removed", input: "Une phrase [4].", expected: "Une phrase."},
	})
}

func TestNumberToWords_German(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"0":      "null",
		"1":      "eins",
		"16":     "sechzehn",
		"17":     "siebzehn",
		"30":     "dreißig",
		"101":    "einhunderteins",
		"1000":   "eintausend",
		"21000":  "einundzwanzigtausend",
		"999999": "neunhundertneunundneunzigtausendneunhundertneunundneunzig",
	}

	for digits, expected := range tests {
		result := text.NumberToWords(digits, "de")
		if result != expected {
			t.Errorf("NumberToWords(%q): expected %q, got %q", digits, expected, result)
		}
	}
}

func TestBaseLanguage(t *testing.T) {
	t.Parallel()

	for input, expected := range map[string]string{"de-DE": "de", "EN_us": "en", " fr ": "fr", "": ""} {
		if result := text.BaseLanguage(input); result != expected {
			t.Errorf("BaseLanguage(%q): expected %q, got %q", input, expected, result)
		}
	}
}
