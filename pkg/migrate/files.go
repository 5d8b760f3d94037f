package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	fileNameRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	unsafeRe   = regexp.MustCompile(`[^a-z0-9]+`)

	requiredMarkers = []string{"-- +goose Up", "-- +goose Down"}
)

// File is one versioned goose migration on disk.
type File struct {
	Version string
	Name    string
	Path    string
}

func parseFileName(dir, base string) (File, bool) {
	m := fileNameRe.FindStringSubmatch(base)
	if m == nil {
		return File{}, false
	}
	return File{Version: m[1], Name: m[2], Path: filepath.Join(dir, base)}, true
}

func slug(name string) string {
	return strings.Trim(unsafeRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// CreateSQLMigration writes <dir>/<YYYYMMDDHHMMSS>_<slug>.sql with empty Up and Down blocks.
func CreateSQLMigration(dir, name string) (string, error) {
	return createAt(dir, name, time.Now().UTC())
}

func createAt(dir, name string, at time.Time) (string, error) {
	if dir == "" {
		return "", errors.New("migrate: dir is required")
	}
	s := slug(name)
	if s == "" {
		return "", fmt.Errorf("migrate: name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("migrate: mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", at.Format(versionLayout), s))
	body := fmt.Sprintf("-- +goose Up\n-- +goose StatementBegin\n-- %[1]s\n-- +goose StatementEnd\n\n"+
		"-- +goose Down\n-- +goose StatementBegin\n-- revert %[1]s\n-- +goose StatementEnd\n", s)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("migrate: create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return "", fmt.Errorf("migrate: write %s: %w", path, err)
	}
	return path, nil
}

// ValidateDir checks every .sql file in dir for a versioned name, a unique
// version, and both goose direction markers. It returns the files in version order.
func ValidateDir(dir string) ([]File, error) {
	if dir == "" {
		return nil, errors.New("migrate: dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: read %s: %w", dir, err)
	}

	var files []File
	byVersion := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		file, ok := parseFileName(dir, e.Name())
		if !ok {
			return nil, fmt.Errorf("migrate: %q is not named YYYYMMDDHHMMSS_name.sql", e.Name())
		}
		if prev, dup := byVersion[file.Version]; dup {
			return nil, fmt.Errorf("migrate: version %s used by %q and %q", file.Version, prev, e.Name())
		}
		byVersion[file.Version] = e.Name()

		raw, err := os.ReadFile(file.Path)
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", file.Path, err)
		}
		for _, marker := range requiredMarkers {
			if !strings.Contains(string(raw), marker) {
				return nil, fmt.Errorf("migrate: %q is missing %q", e.Name(), marker)
			}
		}
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}
