package util

import (
	"reflect"
	"strings"
	"testing"
)

func TestInvalidPort(t *testing.T) {
	portString, err := ValidPort("8000")
	if err != nil {
		t.Fatalf("Should not have errored on valid string: %v", err)
	}
	if portString != ":8000" {
		t.Fatalf("Expected portstring be :8000 instead of %s", portString)
	}
	if _, err = ValidPort("80a"); err == nil {
		t.Fatalf("Expected error on invalid port")
	}
	if _, err = ValidPort("70000"); err == nil {
		t.Fatalf("Expected error on out of range port")
	}
}

func TestListsEqual(t *testing.T) {
	if !ListsEqual([]string{"a", "b", "a"}, []string{"a", "a", "b"}) {
		t.Errorf("Expected lists with the same elements to be equal")
	}
	if ListsEqual([]string{"a", "b"}, []string{"a", "b", "b"}) {
		t.Errorf("Expected multiplicity to matter")
	}
}

func TestReadSubjects(t *testing.T) {
	input := `# blocklist
example.com

  192.0.2.1
https://example.org/path   # trailing comment
`
	subjects, err := ReadSubjects(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"example.com", "192.0.2.1", "https://example.org/path"}
	if !reflect.DeepEqual(subjects, expected) {
		t.Errorf("Expected %v, got %v", expected, subjects)
	}
}
