package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadEmbeddedByDefault(t *testing.T) {
	src, err := Load(Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if src.Origin != "embedded" {
		t.Fatalf("expected embedded origin, got %q", src.Origin)
	}
	for _, want := range []string{"hello: String!", "books: [Book!]!", "bookFeed"} {
		if !strings.Contains(src.Text, want) {
			t.Fatalf("embedded schema missing %q", want)
		}
	}
}

func TestLoadDevelopmentReadsSourceTree(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "internal", "schema")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	const sdl = "type Query { hello: String! }"
	if err := os.WriteFile(filepath.Join(dir, "schema.graphql"), []byte(sdl), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := Load(Options{Development: true, ProjectPath: root})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if src.Text != sdl {
		t.Fatalf("expected source tree schema, got %q", src.Text)
	}
}

func TestLoadExplicitPathWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.graphql")
	if err := os.WriteFile(path, []byte("type Query { books: [String] }"), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := Load(Options{Path: path, Development: true, ProjectPath: "/nonexistent"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if src.Origin != path {
		t.Fatalf("expected origin %s, got %s", path, src.Origin)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(Options{Development: true, ProjectPath: t.TempDir()}); err == nil {
		t.Fatal("expected error for missing development schema")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.graphql")
	if err := os.WriteFile(path, []byte("  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(Options{Path: path}); err == nil {
		t.Fatal("expected error for empty schema file")
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("SCHEMA_PATH", "/tmp/x.graphql")
	t.Setenv("APP_ENV", "Development")
	t.Setenv("PROJECT_PATH", "/srv/shelf")

	opts := OptionsFromEnv()
	if opts.Path != "/tmp/x.graphql" || !opts.Development || opts.ProjectPath != "/srv/shelf" {
		t.Fatalf("unexpected options %+v", opts)
	}
}
