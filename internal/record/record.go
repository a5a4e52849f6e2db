package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Record is the durable local representation of a provisioned instance.
// It is written immediately after creation so a crash never loses the
// ability to locate and clean up the resource, and it is never mutated
// afterwards except by an explicit Delete.
type Record struct {
	ID           string    `json:"id"`
	IP           string    `json:"ip_address"`
	Type         string    `json:"instance_type_id"`
	Region       string    `json:"region_id"`
	Label        string    `json:"label"`
	RootPassword string    `json:"root_password"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists one JSON document per instance, file-named by instance
// id, under <dir>/instances.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{dir: filepath.Join(dataDir, "instances")}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Write persists a record. Mode 0600: the record holds the root password.
func (s *Store) Write(rec *Record) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create instance record directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instance record: %w", err)
	}

	return os.WriteFile(s.path(rec.ID), data, 0600)
}

// Load reads the record for one instance.
func (s *Store) Load(id string) (*Record, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance record: %w", err)
	}

	return &rec, nil
}

// List returns every persisted record, in file order.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// Delete removes the record for one instance.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete instance record: %w", err)
	}
	return nil
}
