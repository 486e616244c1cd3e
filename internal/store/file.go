package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const recordSchema = `{
  "type": "object",
  "required": ["instrument", "base_pair", "quote_pair"],
  "properties": {
    "instrument": {"type": "string", "minLength": 1},
    "base_pair": {"$ref": "#/definitions/pair"},
    "quote_pair": {"$ref": "#/definitions/pair"},
    "classifier_config": {"type": "object"}
  },
  "definitions": {
    "pair": {
      "type": "object",
      "required": ["currency", "starting_units", "tradeable_units"],
      "properties": {
        "currency": {"type": "string", "minLength": 1},
        "starting_units": {"type": ["string", "number"]},
        "tradeable_units": {"type": ["string", "number"]},
        "units": {"type": ["string", "number"]}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("strategy_record.json", recordSchema)

// FileStore keeps one JSON document per strategy in a directory.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("store directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid strategy id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) Save(ctx context.Context, id string, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}
	path, err := s.path(id)
	if err != nil {
		return err
	}
	record.ID = id
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Load(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	path, err := s.path(id)
	if err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(path)
	s.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if record.ID == "" {
		record.ID = id
	}
	return record, record.Validate()
}
