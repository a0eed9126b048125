package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tastegraph/gusto-engine/engine/domain"
)

// LoadSnapshot builds a Flat index from a JSONL stream of VenueRecords with
// embeddings (one record per line, as written by cmd/index-build). The
// dimension is taken from the first record.
func LoadSnapshot(r io.Reader) (*Flat, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<24) // embeddings make long lines

	var f *Flat
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var rec domain.VenueRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("index: snapshot line %d: %w", line, err)
		}
		if len(rec.Embedding) == 0 {
			return nil, fmt.Errorf("index: snapshot line %d (%s): missing embedding", line, rec.Name)
		}
		if err := domain.ValidateRecord(rec); err != nil {
			return nil, fmt.Errorf("index: snapshot line %d: %w", line, err)
		}

		if f == nil {
			f = NewFlat(len(rec.Embedding))
		}
		emb := rec.Embedding
		rec.Embedding = nil // not needed after indexing
		if err := f.Add(rec, emb); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("index: snapshot read: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("index: snapshot is empty")
	}
	return f, nil
}

// LoadSnapshotFile opens path and calls LoadSnapshot.
func LoadSnapshotFile(path string) (*Flat, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("index: open snapshot: %w", err)
	}
	defer file.Close()
	return LoadSnapshot(file)
}
