package selgen

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
	"github.com/surrealdb/gqlcache.go/pkg/logger"
	"github.com/surrealdb/gqlcache.go/pkg/schema"
)

var documentExtensions = map[string]bool{".graphql": true, ".gql": true}

// Do compiles every document named by config and writes the artifacts.
// It returns the paths written, in operation name order.
func Do(ctx context.Context, config *Config) ([]string, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	log := logger.Nop()
	if config.Verbose {
		log = logger.NewText(os.Stderr, slog.LevelDebug)
	}

	sdl, err := os.ReadFile(config.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	reg, err := schema.ParseSDL(string(sdl))
	if err != nil {
		return nil, err
	}

	paths, err := documentPaths(config.Documents)
	if err != nil {
		return nil, err
	}
	sources := make([]Source, 0, len(paths))
	for _, p := range paths {
		body, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read document: %w", err)
		}
		sources = append(sources, Source{Name: p, Body: string(body)})
		log.Debug("document loaded", "path", p)
	}

	artifacts, err := Compile(reg, sources...)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	written := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		data, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			return written, fmt.Errorf("encoding %s: %w", a.Operation.Name, err)
		}
		path := config.ArtifactPath(a.Operation.Name)
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return written, fmt.Errorf("failed to write artifact: %w", err)
		}
		log.Info("artifact written", "operation", a.Operation.Name, "kind", string(a.Operation.Kind), "path", path, "fragments", len(a.Fragments))
		written = append(written, path)
	}
	return written, nil
}

// documentPaths expands directories into the GraphQL documents below them.
func documentPaths(inputs []string) ([]string, error) {
	var paths []string
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, in)
			continue
		}
		err = filepath.WalkDir(in, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && documentExtensions[filepath.Ext(p)] {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(paths)
	return paths, nil
}
