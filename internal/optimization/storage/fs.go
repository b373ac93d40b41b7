// Package storage persists calibration studies as JSON documents on disk.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/optimization"
)

const fileExt = ".json"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// FSStore keeps one JSON document per study at <dir>/<study>.json. Writes
// go to a temporary file that is renamed over the previous document.
type FSStore struct {
	dir string
	mu  sync.Mutex
}

// NewFSStore returns a store rooted at dir, creating it if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, errors.New(errors.KindConfig, "storage.NewFSStore", "storage directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.KindConfig, "storage.NewFSStore", "create %s", dir)
	}
	return &FSStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (fs *FSStore) Dir() string {
	return fs.dir
}

func (fs *FSStore) path(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", errors.Errorf(errors.KindConfig, "storage.FSStore", "invalid study name %q", name)
	}
	return filepath.Join(fs.dir, name+fileExt), nil
}

// Load implements optimization.Storage.
func (fs *FSStore) Load(name string) (*optimization.StudyRecord, error) {
	const op = "storage.FSStore.Load"

	path, err := fs.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Errorf(errors.KindNotFound, op, "study %q not found in %s", name, fs.dir)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, op, "read %s", path)
	}

	var rec optimization.StudyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, errors.KindParse, op, "decode %s", path)
	}
	if rec.Name != name {
		return nil, errors.Errorf(errors.KindParse, op, "%s holds study %q", path, rec.Name)
	}
	return &rec, nil
}

// Save implements optimization.Storage.
func (fs *FSStore) Save(rec *optimization.StudyRecord) error {
	const op = "storage.FSStore.Save"

	if rec == nil {
		return errors.New(errors.KindConfig, op, "study record must not be nil")
	}
	path, err := fs.path(rec.Name)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, op, "encode study %q", rec.Name)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	tmp, err := os.CreateTemp(fs.dir, "."+rec.Name+"-*.tmp")
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, op, "create temp file in %s", fs.dir)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(err, errors.KindInternal, op, "write %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, errors.KindInternal, op, "close %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, errors.KindInternal, op, "rename to %s", path)
	}
	return nil
}

// List implements optimization.Storage.
func (fs *FSStore) List() ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "storage.FSStore.List", "read %s", fs.dir)
	}

	names := []string{}
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(n, fileExt))
	}
	sort.Strings(names)
	return names, nil
}
