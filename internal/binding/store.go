package binding

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotBound means the device has no persisted binding entry.
var ErrNotBound = errors.New("device has no persisted binding")

// storeVersion is bumped when the file layout changes.
const storeVersion = 1

// Entry is one device's persisted binding: the relay port it was found on
// and the hub value recorded there. A zero hub value marks a released or
// stolen binding.
type Entry struct {
	HubValue  int `json:"hub_value"`
	PortIndex int `json:"port_index"`
}

type storeFile struct {
	Version int              `json:"version"`
	Devices map[string]Entry `json:"devices"`
}

// Store persists the serial→(hub value, port) map as a versioned JSON
// file. Writes go through a temp file, fsync and rename so a crash can
// never leave a half-written map behind.
//
// There is no cross-process locking; concurrent writers on one host can
// lose each other's updates. Stations run one binding operation at a
// time, so this has not been worth a lock file yet.
type Store struct {
	path string
}

// NewStore creates a store over the given file path. The file does not
// need to exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path reports the backing file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) read() (storeFile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return storeFile{Version: storeVersion, Devices: map[string]Entry{}}, nil
	}
	if err != nil {
		return storeFile{}, fmt.Errorf("reading binding store: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return storeFile{}, fmt.Errorf("parsing binding store %s: %w", s.path, err)
	}
	if file.Version != storeVersion {
		return storeFile{}, fmt.Errorf("binding store %s has version %d, want %d", s.path, file.Version, storeVersion)
	}
	if file.Devices == nil {
		file.Devices = map[string]Entry{}
	}
	return file, nil
}

func (s *Store) write(file storeFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding binding store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".bindings-*")
	if err != nil {
		return fmt.Errorf("creating temp binding file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing binding store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing binding store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing binding store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing binding store: %w", err)
	}
	return nil
}

// Load returns the binding entry for serial, or ErrNotBound.
func (s *Store) Load(serial string) (Entry, error) {
	file, err := s.read()
	if err != nil {
		return Entry{}, err
	}
	entry, ok := file.Devices[serial]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotBound, serial)
	}
	return entry, nil
}

// All returns a copy of every persisted binding.
func (s *Store) All() (map[string]Entry, error) {
	file, err := s.read()
	if err != nil {
		return nil, err
	}
	return file.Devices, nil
}

// Put upserts the binding entry for serial. Entries are never silently
// dropped; releasing a device writes a zero hub value instead.
func (s *Store) Put(serial string, entry Entry) error {
	file, err := s.read()
	if err != nil {
		return err
	}
	file.Devices[serial] = entry
	return s.write(file)
}
