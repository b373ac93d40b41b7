package optimization

import (
	"sort"
	"sync"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
)

// Storage persists studies keyed by name.
type Storage interface {
	// Load returns the stored study or an error of kind errors.KindNotFound.
	Load(name string) (*StudyRecord, error)
	// Save replaces the stored study. It must not retain rec.
	Save(rec *StudyRecord) error
	// List returns the names of all stored studies, sorted.
	List() ([]string, error)
}

// MemoryStorage keeps studies in process memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	studies map[string]StudyRecord
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{studies: map[string]StudyRecord{}}
}

// Load implements Storage.
func (m *MemoryStorage) Load(name string) (*StudyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.studies[name]
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "optimization.MemoryStorage.Load", "study %q not found", name)
	}
	c := rec.clone()
	return &c, nil
}

// Save implements Storage.
func (m *MemoryStorage) Save(rec *StudyRecord) error {
	if rec == nil || rec.Name == "" {
		return errors.New(errors.KindConfig, "optimization.MemoryStorage.Save", "study record must have a name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.studies[rec.Name] = rec.clone()
	return nil
}

// List implements Storage.
func (m *MemoryStorage) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.studies))
	for name := range m.studies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
