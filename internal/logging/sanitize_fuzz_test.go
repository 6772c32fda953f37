package logging

import (
	"testing"
	"unicode"

	"github.com/rs/zerolog"
)

func FuzzSanitizeString(f *testing.F) {
	f.Add("orders-eu-1")
	f.Add("deploy finished \x1b[2Jclear")
	f.Add("\x1b[31mred\x1b[0m")
	f.Add("normal\x00null\x07bell")
	f.Add("tabs\tand\nnewlines")
	f.Add("\x1b")           // incomplete escape
	f.Add("\x1b[999999999") // long incomplete escape

	f.Fuzz(func(t *testing.T, input string) {
		result := sanitizeString(input)
		for _, r := range result {
			if r == '\x1b' {
				t.Errorf("output contains ESC: %q", result)
			}
			if r != '\t' && r != '\n' && unicode.IsControl(r) {
				t.Errorf("output contains control char %U: %q", r, result)
			}
		}
		// Idempotent: sanitizing twice produces the same result.
		if sanitizeString(result) != result {
			t.Errorf("sanitizeString is not idempotent for input %q", input)
		}
	})
}

func TestLogAlert_SanitizesHostileMessage(t *testing.T) {
	logger := &Logger{zl: zerolog.Nop()}
	// Should not panic with ANSI in the producer id or message.
	logger.LogAlert("evil\x1b[2Jid", "topic", "warning", "found \x1b[31msecret\x1b[0m", true)
}

func TestLogProducerFailed_SanitizesDetail(t *testing.T) {
	logger := &Logger{zl: zerolog.Nop()}
	logger.LogProducerFailed("p\x00id", 3, "panic: \x1b[2Jboom")
}

func TestSanitizeString_CleanInputFastPath(t *testing.T) {
	clean := "orders-eu-1.tick?seq=42"
	if got := sanitizeString(clean); got != clean {
		t.Errorf("sanitizeString(%q) = %q, want unchanged", clean, got)
	}
}
