package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims keys and strips markup from values", func(t *testing.T) {
		input := map[string]string{
			" declaration ": " D-1001 ",
			"note":          "<b>urgent</b> clearance",
			"empty":         " ",
			" ":             "ignored",
		}

		expected := map[string]string{
			"declaration": "D-1001",
			"note":        "urgent clearance",
			"empty":       "",
		}

		actual := NormalizeStringMap(input)
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if NormalizeStringMap(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeStringMap(map[string]string{" ": "x"}) != nil {
			t.Fatalf("expected nil when every key is blank")
		}
	})
}

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"Customs clearance":                    "Customs clearance",
		"<script>alert(1)</script>Steel coils": "Steel coils",
		"R&D samples":                          "R&D samples",
		"  padded  ":                           "padded",
	}
	for input, want := range cases {
		if got := PlainText(input); got != want {
			t.Fatalf("PlainText(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := Truncate("تخليص جمركي", 5); got != "تخليص" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Fatalf("unexpected truncation %q", got)
	}
}
