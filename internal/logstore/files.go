package logstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-replay/replay-server/internal/models"
)

// ErrLogNotFound is returned for unknown stored-log IDs
var ErrLogNotFound = fmt.Errorf("stored log not found")

// Files manages uploaded .jsonl files under a data directory. Each
// file is stored as <uuid>.jsonl with a sidecar name file.
type Files struct {
	dir string
	mu  sync.Mutex
}

// NewFiles creates the storage directory if needed
func NewFiles(dataDir string) (*Files, error) {
	dir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Files{dir: dir}, nil
}

// Save stores an uploaded log and returns its metadata
func (f *Files) Save(name string, r io.Reader) (*models.StoredLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.New().String()
	path := filepath.Join(f.dir, id+".jsonl")

	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	size, err := io.Copy(dst, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write log file: %w", err)
	}

	name = sanitizeName(name)
	if err := os.WriteFile(filepath.Join(f.dir, id+".name"), []byte(name), 0o644); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("failed to record log name")
	}

	return &models.StoredLog{
		ID:         id,
		Name:       name,
		Size:       size,
		UploadedAt: float64(time.Now().Unix()),
	}, nil
}

// Open returns a handle for the stored log's content
func (f *Files) Open(id string) (io.ReadCloser, error) {
	path, err := f.path(id)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrLogNotFound
	}
	return file, err
}

// Path returns the on-disk path of a stored log
func (f *Files) Path(id string) (string, error) {
	path, err := f.path(id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", ErrLogNotFound
	}
	return path, nil
}

// Get returns metadata for one stored log
func (f *Files) Get(id string) (*models.StoredLog, error) {
	path, err := f.path(id)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, err
	}
	return &models.StoredLog{
		ID:         id,
		Name:       f.name(id),
		Size:       info.Size(),
		UploadedAt: float64(info.ModTime().Unix()),
	}, nil
}

// List returns all stored logs, newest first
func (f *Files) List() ([]*models.StoredLog, error) {
	matches, err := filepath.Glob(filepath.Join(f.dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}

	logs := make([]*models.StoredLog, 0, len(matches))
	for _, path := range matches {
		id := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		entry, err := f.Get(id)
		if err != nil {
			continue
		}
		logs = append(logs, entry)
	}

	sort.Slice(logs, func(i, j int) bool {
		return logs[i].UploadedAt > logs[j].UploadedAt
	})
	return logs, nil
}

// Delete removes a stored log and its name sidecar
func (f *Files) Delete(id string) error {
	path, err := f.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); os.IsNotExist(err) {
		return ErrLogNotFound
	} else if err != nil {
		return err
	}
	os.Remove(filepath.Join(f.dir, id+".name"))
	return nil
}

func (f *Files) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrLogNotFound
	}
	return filepath.Join(f.dir, id+".jsonl"), nil
}

func (f *Files) name(id string) string {
	b, err := os.ReadFile(filepath.Join(f.dir, id+".name"))
	if err != nil {
		return id + ".jsonl"
	}
	return string(b)
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "upload.jsonl"
	}
	return name
}
