// Package schema provides the GraphQL type definitions served by shelf.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"shelf/pkg/config"
)

//go:embed schema.graphql
var embedded string

// RelativePath locates the schema inside the source tree.
const RelativePath = "internal/schema/schema.graphql"

// Source records which copy of the schema was loaded.
type Source struct {
	Text   string
	Origin string
}

// Options select the schema copy. Path wins when set; otherwise Development
// reads RelativePath under ProjectPath so edits apply without a rebuild.
type Options struct {
	Path        string
	Development bool
	ProjectPath string
}

// OptionsFromEnv reads SCHEMA_PATH, APP_ENV and PROJECT_PATH.
func OptionsFromEnv() Options {
	return Options{
		Path:        config.GetEnv("SCHEMA_PATH", ""),
		Development: config.IsDevelopment(),
		ProjectPath: config.ProjectPath(),
	}
}

// Load returns the schema text. It is meant to be called once at startup.
func Load(opts Options) (*Source, error) {
	switch {
	case opts.Path != "":
		return readFile(opts.Path)
	case opts.Development:
		return readFile(filepath.Join(opts.ProjectPath, filepath.FromSlash(RelativePath)))
	default:
		return &Source{Text: Embedded(), Origin: "embedded"}, nil
	}
}

// Embedded returns the schema compiled into the binary.
func Embedded() string {
	return embedded
}

func readFile(path string) (*Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil, fmt.Errorf("read schema: %s is empty", path)
	}
	return &Source{Text: string(b), Origin: path}, nil
}
