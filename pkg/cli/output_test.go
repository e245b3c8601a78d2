package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOutputFormats(t *testing.T) {
	data := map[string]any{"name": "capture_1", "channels": 2}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(data, OutputOptions{Format: FormatJSON, Writer: &buf}); err != nil {
			t.Fatal(err)
		}
		var back map[string]any
		if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
			t.Fatalf("bad json: %v", err)
		}
		if back["name"] != "capture_1" {
			t.Errorf("name = %v", back["name"])
		}
	})

	t.Run("empty format is yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(data, OutputOptions{Writer: &buf}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "name: capture_1") {
			t.Errorf("output = %q", buf.String())
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(data, OutputOptions{Format: "tsv", Writer: &buf}); err == nil {
			t.Error("no error for unknown format")
		}
	})
}

func TestOutputRaw(t *testing.T) {
	t.Run("bytes pass through", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output([]byte{0x90, 60, 100}, OutputOptions{Format: FormatRaw, Writer: &buf}); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf.Bytes(), []byte{0x90, 60, 100}) {
			t.Errorf("output = %v", buf.Bytes())
		}
	})

	t.Run("strings pass through", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output("system:playback_1", OutputOptions{Format: FormatRaw, Writer: &buf}); err != nil {
			t.Fatal(err)
		}
		if buf.String() != "system:playback_1" {
			t.Errorf("output = %q", buf.String())
		}
	})

	t.Run("structured falls back to yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(map[string]int{"xruns": 3}, OutputOptions{Format: FormatRaw, Writer: &buf}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "xruns: 3") {
			t.Errorf("output = %q", buf.String())
		}
	})
}

func TestOutputToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.json")

	err := Output(map[string]string{"direction": "input"}, OutputOptions{
		Format: FormatJSON,
		File:   path,
	})
	if err != nil {
		t.Fatal(err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]string
	if err := json.Unmarshal(content, &back); err != nil {
		t.Fatalf("bad json in file: %v", err)
	}
	if back["direction"] != "input" {
		t.Errorf("direction = %q", back["direction"])
	}
}
