package scanner

import (
	"reflect"
	"testing"
)

func TestParseRuleSimple(t *testing.T) {
	out := []byte("_: main.c foo.h bar.h\n")
	got, err := parseRule(out)
	if err != nil {
		t.Fatalf("parseRule: %v", err)
	}
	want := []string{"main.c", "foo.h", "bar.h"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseRule() = %v, want %v", got, want)
	}
}

func TestParseRuleJoinsLineContinuations(t *testing.T) {
	out := []byte("_: main.c \\\n  foo.h \\\n  bar.h\n")
	got, err := parseRule(out)
	if err != nil {
		t.Fatalf("parseRule: %v", err)
	}
	want := []string{"main.c", "foo.h", "bar.h"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseRule() = %v, want %v", got, want)
	}
}

func TestParseRuleUnescapesSpacesAndHash(t *testing.T) {
	out := []byte(`_: my\ header.h weird\#name.h` + "\n")
	got, err := parseRule(out)
	if err != nil {
		t.Fatalf("parseRule: %v", err)
	}
	want := []string{"my header.h", "weird#name.h"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseRule() = %v, want %v", got, want)
	}
}

func TestParseRuleRejectsMissingSeparator(t *testing.T) {
	if _, err := parseRule([]byte("no colon here\n")); err == nil {
		t.Fatal("expected an error for output with no rule separator")
	}
}
