package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxCollisions bounds the numeric suffix search in Save.
const maxCollisions = 1000

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+\.png$`)

// ErrNotFound is returned by ReadImage for unknown files.
var ErrNotFound = errors.New("screenshot not found")

// Meta describes one stored screenshot.
type Meta struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// Store writes screenshot PNGs into one output directory.
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("snapshot store: mkdir %s: %w", dir, err)
		}
		logger.Info("screenshot directory created", "dir", dir)
	} else if err != nil {
		return nil, fmt.Errorf("snapshot store: stat %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir is the output directory.
func (s *Store) Dir() string { return s.dir }

// Sanitize lowercases name and replaces every character outside [a-z0-9]
// with '_'.
func Sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, strings.ToLower(name))
}

// Timestamp renders t as a filesystem-safe RFC 3339 UTC instant with
// millisecond precision, e.g. 2024-05-01T12-30-00-123Z.
func Timestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	return strings.NewReplacer(":", "-", ".", "-").Replace(s)
}

// FileName builds "{sanitized}_{timestamp}.png", or
// "{sanitized}_{role}_{timestamp}.png" when role is set.
func FileName(target, role string, at time.Time) string {
	parts := []string{Sanitize(target)}
	if role != "" {
		parts = append(parts, role)
	}
	parts = append(parts, Timestamp(at))
	return strings.Join(parts, "_") + ".png"
}

// Save writes data under FileName(target, role, at). An existing file is
// never overwritten; a numeric suffix is appended instead. It returns the
// path written.
func (s *Store) Save(target, role string, at time.Time, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := strings.TrimSuffix(FileName(target, role, at), ".png")
	for i := 0; i < maxCollisions; i++ {
		name := base + ".png"
		if i > 0 {
			name = base + "-" + strconv.Itoa(i) + ".png"
		}
		path := filepath.Join(s.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			s.logger.Debug("screenshot name collision", "path", path)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("snapshot store: create %s: %w", path, err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("snapshot store: write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("snapshot store: close %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("snapshot store: %s: too many name collisions", base)
}

// List returns stored screenshots sorted by modification time (newest first).
func (s *Store) List() ([]Meta, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.png"))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: glob: %w", err)
	}

	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		metas = append(metas, Meta{
			Name:      filepath.Base(path),
			Path:      path,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].ModTime.Equal(metas[j].ModTime) {
			return metas[i].Name > metas[j].Name
		}
		return metas[i].ModTime.After(metas[j].ModTime)
	})
	return metas, nil
}

// ReadImage returns the bytes of the screenshot called name.
func (s *Store) ReadImage(name string) ([]byte, error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid screenshot name %q: %w", name, ErrNotFound)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot store: read %s: %w", name, err)
	}
	return data, nil
}
