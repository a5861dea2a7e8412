package index

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/medplane/medplane/internal/pkg/medical"
)

const (
	snapshotFile = "snapshot.json"
	walFile      = "index.log"
)

type walOp string

const (
	opInsert walOp = "insert"
	opDelete walOp = "delete"
)

type walEntry struct {
	Op     walOp                   `json:"op"`
	ID     string                  `json:"id,omitempty"`
	Record *medical.MetadataRecord `json:"record,omitempty"`
}

// wal is the append-only mutation log. Appends happen inside the index writer
// critical section, so no additional locking is needed here.
type wal struct {
	dir string
	f   *os.File
	enc *json.Encoder
}

func (w *wal) append(e walEntry) error {
	return w.enc.Encode(e)
}

func (w *wal) truncate() error {
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating index log: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding index log: %w", err)
	}
	return nil
}

func (w *wal) close() error {
	return w.f.Close()
}

// loadState reads the snapshot plus append log from dir and returns the
// replayed primary record set along with an open wal ready for appends.
func loadState(dir string) (map[string]medical.MetadataRecord, *wal, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, nil, fmt.Errorf("creating index directory: %w", err)
	}
	records := make(map[string]medical.MetadataRecord)

	snapPath := filepath.Join(dir, snapshotFile)
	if data, err := os.ReadFile(snapPath); err == nil {
		var snapshot []medical.MetadataRecord
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return nil, nil, fmt.Errorf("decoding index snapshot %s: %w", snapPath, err)
		}
		for _, r := range snapshot {
			records[r.ID] = r
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("reading index snapshot %s: %w", snapPath, err)
	}

	walPath := filepath.Join(dir, walFile)
	f, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening index log %s: %w", walPath, err)
	}
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var e walEntry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// a torn tail write from a crash is expected; replay stops there
			break
		}
		switch e.Op {
		case opInsert:
			if e.Record != nil {
				records[e.Record.ID] = *e.Record
			}
		case opDelete:
			delete(records, e.ID)
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("seeking index log %s: %w", walPath, err)
	}
	return records, &wal{dir: dir, f: f, enc: json.NewEncoder(f)}, nil
}

// writeSnapshot atomically replaces the snapshot file with the given records.
func writeSnapshot(dir string, records []medical.MetadataRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding index snapshot: %w", err)
	}
	tmp := filepath.Join(dir, snapshotFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing index snapshot: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, snapshotFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing index snapshot: %w", err)
	}
	return nil
}
