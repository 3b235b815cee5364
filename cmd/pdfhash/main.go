// Command pdfhash extracts the password-recovery fingerprint of an
// encrypted document and writes it next to the input as <input>.hash.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/hashbaker/pdfhash/extractor"
	"github.com/hashbaker/pdfhash/observability"
)

const banner = `pdfhash - encrypted document fingerprint extractor`

func main() {
	cfg, args, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pdfhash [flags] <protected_file_path>")
		os.Exit(2)
	}
	os.Exit(run(cfg, args[0]))
}

func run(cfg *Config, input string) int {
	if !cfg.Quiet {
		fmt.Println(banner)
	}

	level := observability.LevelWarn
	if cfg.Verbose {
		level = observability.LevelDebug
	}
	logger := observability.NewWriterLogger(os.Stderr, level)

	data, err := os.ReadFile(input)
	if err != nil {
		return failure("Error: file not found.", err, logger)
	}

	ex := extractor.New(extractor.Config{
		Strict: cfg.Strict,
		Logger: logger,
	})
	line, err := ex.Extract(context.Background(), data)
	if err != nil {
		return failure(failureReason(err), err, logger)
	}

	out := cfg.Output
	if out == "" {
		out = hashPath(input)
	}
	if err := os.WriteFile(out, []byte(line+"\n"), 0o644); err != nil {
		return failure("Error: cannot write hash file.", err, logger)
	}

	fmt.Println("Extraction successful.")
	fmt.Println(out)
	return 0
}

func failure(reason string, err error, logger observability.Logger) int {
	logger.Debug("extraction error", observability.Error("err", err))
	fmt.Println("Extraction failed.")
	fmt.Println(reason)
	return 2
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, extractor.ErrNotEncrypted):
		return "The document is not encrypted; there is no hash to extract."
	case errors.Is(err, extractor.ErrMissingDocumentID):
		return "The document carries no /ID; the hash would be unusable."
	case errors.Is(err, extractor.ErrUnsupportedHandler):
		return "Unsupported protection: only the standard password handler is supported."
	case errors.Is(err, extractor.ErrMalformedHandler):
		return "The encryption dictionary is malformed."
	case errors.Is(err, extractor.ErrStructuralCorruption):
		return "The file structure is too damaged to locate the encryption data."
	default:
		return "Extraction error: " + err.Error()
	}
}

// hashPath swaps the input extension for .hash, keeping the directory.
func hashPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".hash"
}
