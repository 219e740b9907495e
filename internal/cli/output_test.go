package cli

import (
	"bytes"
	"strings"
	"testing"
)

type result struct {
	Task  string         `json:"task" yaml:"task"`
	Count map[string]int `json:"count" yaml:"count"`
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputFormatYAML, false},
		{"yaml", OutputFormatYAML, false},
		{"json", OutputFormatJSON, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutputFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOutputFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseOutputFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPrinter(t *testing.T) {
	data := result{Task: "people", Count: map[string]int{"success": 3}}

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := NewPrinter(&buf, OutputFormatYAML).Print(data); err != nil {
			t.Fatal(err)
		}
		want := "task: people\ncount:\n  success: 3\n"
		if buf.String() != want {
			t.Errorf("got %q, want %q", buf.String(), want)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := NewPrinter(&buf, OutputFormatJSON).Print(data); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), `"success": 3`) {
			t.Errorf("unexpected json: %s", buf.String())
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if err := OutputTo(&bytes.Buffer{}, "toml", data); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}
