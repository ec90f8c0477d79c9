package validation

import (
	"strings"
	"testing"
)

// --- ValidateUTF8 ---

func TestValidateUTF8_Valid(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"ascii", "hello world"},
		{"empty", ""},
		{"unicode", "Hello, 世界"},
		{"emoji", "Hello 👋🏻"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateUTF8("field", tt.value); err != nil {
				t.Errorf("ValidateUTF8(%q) = %v, want nil", tt.value, err)
			}
		})
	}
}

func TestValidateUTF8_Invalid(t *testing.T) {
	err := ValidateUTF8("content", string([]byte{0xff, 0xfe}))
	if err == nil {
		t.Fatal("expected error for invalid UTF-8")
	}
	if err.Field != "content" {
		t.Errorf("field = %q, want content", err.Field)
	}
}

// --- ValidateNoNullBytes ---

func TestValidateNoNullBytes(t *testing.T) {
	if err := ValidateNoNullBytes("f", "clean"); err != nil {
		t.Errorf("clean value should pass: %v", err)
	}
	if err := ValidateNoNullBytes("f", "dirty\x00value"); err == nil {
		t.Error("null byte should fail")
	}
}

// --- ValidateMaxLength ---

func TestValidateMaxLength(t *testing.T) {
	if err := ValidateMaxLength("f", "short", 10); err != nil {
		t.Errorf("short value should pass: %v", err)
	}
	if err := ValidateMaxLength("f", strings.Repeat("x", 11), 10); err == nil {
		t.Error("long value should fail")
	}
	// Rune count, not byte count.
	if err := ValidateMaxLength("f", strings.Repeat("世", 10), 10); err != nil {
		t.Errorf("10 multibyte runes should pass: %v", err)
	}
}

// --- ValidateRequired ---

func TestValidateRequired(t *testing.T) {
	if err := ValidateRequired("f", "present"); err != nil {
		t.Errorf("present value should pass: %v", err)
	}
	if err := ValidateRequired("f", ""); err == nil {
		t.Error("empty value should fail")
	}
	if err := ValidateRequired("f", "   "); err == nil {
		t.Error("whitespace-only value should fail")
	}
}

// --- ValidateEnum / ValidateRange ---

func TestValidateEnum(t *testing.T) {
	allowed := []string{"a", "b"}
	if err := ValidateEnum("f", "a", allowed); err != nil {
		t.Errorf("allowed value should pass: %v", err)
	}
	err := ValidateEnum("f", "c", allowed)
	if err == nil {
		t.Fatal("unknown value should fail")
	}
	if !strings.Contains(err.Message, "a, b") {
		t.Errorf("message should list allowed values: %q", err.Message)
	}
}

func TestValidateRange(t *testing.T) {
	if err := ValidateRange("f", 0.5, 0, 1); err != nil {
		t.Errorf("in-range value should pass: %v", err)
	}
	if err := ValidateRange("f", 0, 0, 1); err != nil {
		t.Errorf("boundary value should pass: %v", err)
	}
	if err := ValidateRange("f", 1.1, 0, 1); err == nil {
		t.Error("out-of-range value should fail")
	}
}

// --- ValidateULID ---

func TestValidateULID(t *testing.T) {
	if err := ValidateULID("id", "01ARZ3NDEKTSV4RRFFQ69G5FAV"); err != nil {
		t.Errorf("canonical ULID should pass: %v", err)
	}

	for _, bad := range []string{"", "missing", "not-a-ulid", "01ARZ3NDEKTSV4RRFFQ69G5FA"} {
		err := ValidateULID("id", bad)
		if err == nil {
			t.Errorf("%q should fail", bad)
			continue
		}
		if err.Field != "id" {
			t.Errorf("field = %q, want id", err.Field)
		}
	}
}

// --- Collector ---

func TestCollector_AccumulatesErrors(t *testing.T) {
	var c Collector
	c.Add(nil)
	c.Add(&ValidationError{Field: "a", Message: "bad"})
	c.Add(nil)
	c.Add(&ValidationError{Field: "b", Message: "worse"})

	if !c.HasErrors() {
		t.Fatal("collector should report errors")
	}
	if got := len(c.Errors()); got != 2 {
		t.Errorf("errors = %d, want 2 (nil adds ignored)", got)
	}
}

func TestCollector_Empty(t *testing.T) {
	var c Collector
	if c.HasErrors() {
		t.Error("fresh collector should have no errors")
	}
}
