package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// OutputFormat selects how command results are rendered.
type OutputFormat string

const (
	// FormatYAML is the default terminal rendering.
	FormatYAML OutputFormat = "yaml"
	// FormatJSON renders indented JSON, for scripting.
	FormatJSON OutputFormat = "json"
	// FormatRaw writes byte and string results untouched.
	FormatRaw OutputFormat = "raw"
)

// OutputOptions selects the rendering and destination of a result.
type OutputOptions struct {
	Format OutputFormat

	// File redirects the result there instead of stdout.
	File string

	// Writer takes precedence over File when set.
	Writer io.Writer
}

// Output renders result in the requested format. An empty format means
// YAML.
func Output(result any, opts OutputOptions) error {
	w := io.Writer(os.Stdout)
	switch {
	case opts.Writer != nil:
		w = opts.Writer
	case opts.File != "":
		f, err := os.Create(opts.File)
		if err != nil {
			return fmt.Errorf("cli: create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch opts.Format {
	case FormatYAML, "":
		return writeYAML(w, result)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatRaw:
		switch v := result.(type) {
		case []byte:
			_, err := w.Write(v)
			return err
		case string:
			_, err := io.WriteString(w, v)
			return err
		}
		// No raw form, fall back to the readable one.
		return writeYAML(w, result)
	}
	return fmt.Errorf("cli: unknown output format %q", opts.Format)
}

func writeYAML(w io.Writer, result any) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("cli: marshal output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// PrintError writes a formatted error line to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
