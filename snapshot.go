package gqlcache

import (
	"fmt"
	"os"
	"path/filepath"
)

// SaveSnapshot writes every record to path. The file is replaced atomically.
func (e *Environment) SaveSnapshot(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := e.store.Save(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadSnapshot replaces the store contents with the records saved at path.
func (e *Environment) LoadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := e.store.Load(f); err != nil {
		return fmt.Errorf("loading snapshot %s: %w", path, err)
	}
	e.logger.Info("snapshot loaded", "path", path, "records", e.store.Len())
	return nil
}
