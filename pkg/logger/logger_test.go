package logger

import "testing"

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Config{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewAcceptsDefaults(t *testing.T) {
	for _, format := range []string{"", "console", "json"} {
		log, err := New(Config{Format: format})
		if err != nil {
			t.Fatalf("New(format=%q): %v", format, err)
		}
		log.Named("test").With(String("k", "v")).Debug("hello", Int("n", 1))
	}
}
