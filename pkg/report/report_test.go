package report

import (
	"bytes"
	"errors"
	"testing"
)

// TestFprintOrdering verifies that lines are sorted by key
func TestFprintOrdering(t *testing.T) {
	var buf bytes.Buffer
	results := map[string]float64{
		"Median":            2,
		"Mean":              2.5,
		"StandardDeviation": 0.5,
	}

	if err := Fprint(&buf, "Calculated first order features:", results); err != nil {
		t.Fatalf("Fprint failed: %v", err)
	}

	expected := "Calculated first order features:\n" +
		"   Mean : 2.5\n" +
		"   Median : 2\n" +
		"   StandardDeviation : 0.5\n"
	if buf.String() != expected {
		t.Errorf("Expected:\n%s\ngot:\n%s", expected, buf.String())
	}
}

// TestFprintEmpty verifies that an empty result prints only the title
func TestFprintEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Fprint(&buf, "Title", nil); err != nil {
		t.Fatalf("Fprint failed: %v", err)
	}
	if buf.String() != "Title\n" {
		t.Errorf("Expected only the title, got %q", buf.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("closed")
}

// TestFprintWriteError verifies that write failures are returned
func TestFprintWriteError(t *testing.T) {
	if err := Fprint(failingWriter{}, "Title", map[string]float64{"a": 1}); err == nil {
		t.Error("Expected write error, got nil")
	}
}
