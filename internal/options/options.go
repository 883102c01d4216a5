// Package options resolves command-line input into the immutable run options.
package options

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	clierrors "github.com/marcusrbrown/ocdiag/internal/errors"
)

// Format selects the report renderer.
type Format string

// Supported report formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", clierrors.InvalidFormat(s)
	}
}

// Options is the resolved configuration for one run. It is never modified
// after Resolve returns.
type Options struct {
	Host         string
	Port         int
	PortProvided bool
	Directory    string
	Format       Format
	// Only lists the requested section keys; nil means every section.
	Only          []string
	TUI           bool
	Full          bool
	Limit         int
	ToolsProvider string
	ToolsModel    string
}

// Includes reports whether the section key should be collected.
func (o Options) Includes(key string) bool {
	return o.Only == nil || slices.Contains(o.Only, key)
}

// Input is the raw, unvalidated flag values.
type Input struct {
	Host          string
	Port          int
	PortProvided  bool
	Directory     string
	Format        string
	JSON          bool
	Only          []string
	NoTUI         bool
	Full          bool
	Limit         int
	ToolsProvider string
	ToolsModel    string
}

// Resolve validates in against the known section keys and fills defaults.
func Resolve(in Input, known []string) (Options, error) {
	format, err := ParseFormat(in.Format)
	if err != nil {
		return Options{}, err
	}

	if in.JSON {
		format = FormatJSON
	}

	if in.PortProvided && (in.Port < 1 || in.Port > 65535) {
		return Options{}, clierrors.InvalidPort(in.Port)
	}

	if in.Limit < 1 {
		return Options{}, clierrors.InvalidLimit(in.Limit)
	}

	only, err := resolveOnly(in.Only, known)
	if err != nil {
		return Options{}, err
	}

	dir, err := resolveDirectory(in.Directory)
	if err != nil {
		return Options{}, err
	}

	host := strings.TrimSpace(in.Host)
	if host == "" {
		host = "127.0.0.1"
	}

	return Options{
		Host:          host,
		Port:          in.Port,
		PortProvided:  in.PortProvided,
		Directory:     dir,
		Format:        format,
		Only:          only,
		TUI:           !in.NoTUI,
		Full:          in.Full,
		Limit:         in.Limit,
		ToolsProvider: strings.TrimSpace(in.ToolsProvider),
		ToolsModel:    strings.TrimSpace(in.ToolsModel),
	}, nil
}

// resolveOnly accepts repeated and comma-separated keys. An empty result
// selects every section.
func resolveOnly(raw, known []string) ([]string, error) {
	var only []string

	for _, entry := range raw {
		for key := range strings.SplitSeq(entry, ",") {
			key = strings.ToLower(strings.TrimSpace(key))
			if key == "" {
				continue
			}

			if !slices.Contains(known, key) {
				return nil, clierrors.InvalidSection(key, known)
			}

			if !slices.Contains(only, key) {
				only = append(only, key)
			}
		}
	}

	return only, nil
}

func resolveDirectory(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}

		return wd, nil
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve directory %q: %w", dir, err)
	}

	return abs, nil
}
