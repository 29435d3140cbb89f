package store

import (
	"fmt"
	"io"
	"sort"

	"github.com/surrealdb/gqlcache.go/pkg/models"
)

const snapshotVersion = 1

type snapshotFile struct {
	Version int              `cbor:"version"`
	Records []*models.Record `cbor:"records"`
}

// Save writes every record to w as CBOR.
func (s *Store) Save(w io.Writer) error {
	s.mu.RLock()
	file := snapshotFile{Version: snapshotVersion, Records: make([]*models.Record, 0, len(s.records))}
	for _, r := range s.records {
		file.Records = append(file.Records, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(file.Records, func(i, j int) bool { return file.Records[i].ID < file.Records[j].ID })
	return models.CborMarshaler{}.NewEncoder(w).Encode(file)
}

// Load replaces the store contents with a snapshot written by Save.
// Subscribers are notified of the difference.
func (s *Store) Load(r io.Reader) error {
	var file snapshotFile
	if err := (models.CborUnmarshaler{}).NewDecoder(r).Decode(&file); err != nil {
		return fmt.Errorf("decoding store snapshot: %w", err)
	}
	if file.Version != snapshotVersion {
		return fmt.Errorf("unsupported store snapshot version %d", file.Version)
	}

	_, err := s.Update(func(tx *Tx) error {
		keep := make(map[models.DataID]struct{}, len(file.Records))
		for _, rec := range file.Records {
			keep[rec.ID] = struct{}{}
		}
		for id := range tx.s.records {
			if _, ok := keep[id]; !ok {
				tx.Delete(id)
			}
		}
		for _, rec := range file.Records {
			if cur, ok := tx.Get(rec.ID); ok {
				for key := range cur.Fields {
					if _, ok := rec.Fields[key]; !ok {
						tx.Unset(rec.ID, key)
					}
				}
			}
			tx.Write(rec.ID, rec.Typename, rec.Fields)
		}
		return nil
	})
	return err
}
