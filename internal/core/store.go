package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// registryVersion is the schema version written to registry files.
const registryVersion = 1

// Store owns the registry file: the durable mapping from package name to its
// installed state. All mutations run as a serialized load-mutate-save cycle
// so concurrent operations can never tear the file, and Begin enforces at
// most one lifecycle operation per package name at a time.
type Store struct {
	path string

	mu sync.Mutex // serializes registry reads and writes

	opMu     sync.Mutex          // guards inFlight
	inFlight map[string]struct{} // package names with an active operation
}

// NewStore creates a Store backed by the registry file at path. The file
// need not exist yet.
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		inFlight: make(map[string]struct{}),
	}
}

// Path returns the registry file path.
func (s *Store) Path() string { return s.path }

// Begin claims the operation slot for the named package. It fails with
// ErrOperationInFlight when another operation on the same name is active.
// The returned release func must be called when the operation finishes.
func (s *Store) Begin(name string) (release func(), err error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, active := s.inFlight[name]; active {
		return nil, fmt.Errorf("package %q: %w", name, ErrOperationInFlight)
	}
	s.inFlight[name] = struct{}{}

	return func() {
		s.opMu.Lock()
		delete(s.inFlight, name)
		s.opMu.Unlock()
	}, nil
}

// Init writes an empty registry file unless one already exists.
func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	return s.save(&Registry{Version: registryVersion, Packages: map[string]*Record{}})
}

// Get returns the record for name, or a NotInstalledError.
func (s *Store) Get(name string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return nil, err
	}
	rec, ok := reg.Packages[name]
	if !ok {
		return nil, &NotInstalledError{Name: name}
	}
	return rec, nil
}

// List returns all records sorted by name.
func (s *Store) List() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(reg.Packages))
	for _, rec := range reg.Packages {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// Put upserts the record under rec.Name and rewrites the registry.
func (s *Store) Put(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return err
	}
	cp := *rec
	reg.Packages[rec.Name] = &cp
	return s.save(reg)
}

// Delete removes the record for name and rewrites the registry. Deleting an
// absent name is a no-op.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := reg.Packages[name]; !ok {
		return nil
	}
	delete(reg.Packages, name)
	return s.save(reg)
}

// load reads and parses the registry file. A missing file yields an empty
// registry so first use needs no explicit init.
func (s *Store) load() (*Registry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{Version: registryVersion, Packages: map[string]*Record{}}, nil
		}
		return nil, &RegistryIOError{Path: s.path, Op: "read", Err: err}
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, &RegistryIOError{Path: s.path, Op: "parse", Err: err}
	}
	if reg.Version == 0 {
		reg.Version = registryVersion
	}
	if reg.Version != registryVersion {
		return nil, &RegistryIOError{
			Path: s.path,
			Op:   "parse",
			Err:  fmt.Errorf("unsupported registry version %d (this magpie reads version %d)", reg.Version, registryVersion),
		}
	}
	if reg.Packages == nil {
		reg.Packages = map[string]*Record{}
	}
	for name, rec := range reg.Packages {
		rec.Name = name
	}
	return &reg, nil
}

// save writes the registry atomically: marshal, write a temp file next to
// the target, rename over it. A crash mid-write leaves the previous file
// intact.
func (s *Store) save(reg *Registry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &RegistryIOError{Path: s.path, Op: "write", Err: err}
	}

	data, err := yaml.Marshal(reg)
	if err != nil {
		return &RegistryIOError{Path: s.path, Op: "write", Err: err}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return &RegistryIOError{Path: s.path, Op: "write", Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath) // clean up on failure
		return &RegistryIOError{Path: s.path, Op: "write", Err: err}
	}
	return nil
}
