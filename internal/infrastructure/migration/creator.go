package migration

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

var scaffold = template.Must(template.New("migration").Parse(`-- {{.Version}} {{.Name}} ({{.Direction}})
-- Created: {{.Created}}
{{- if .Description}}
-- {{.Description}}
{{- end}}

`))

// MigrationFile is a newly scaffolded up/down pair
type MigrationFile struct {
	Version     uint
	Name        string
	Description string
	UpPath      string
	DownPath    string
}

// CreateMigration writes an empty up/down pair numbered one past the highest
// existing version in dir, e.g. 000005_add_location_index.up.sql.
func CreateMigration(dir, name, description string) (*MigrationFile, error) {
	slug := sanitizeName(name)
	if slug == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}

	existing, err := ListMigrations(os.DirFS(dir))
	if err != nil {
		return nil, err
	}
	var next uint = 1
	if n := len(existing); n > 0 {
		next = existing[n-1].Version + 1
	}

	base := fmt.Sprintf("%06d_%s", next, slug)
	mf := &MigrationFile{
		Version:     next,
		Name:        slug,
		Description: description,
		UpPath:      filepath.Join(dir, base+upSuffix),
		DownPath:    filepath.Join(dir, base+downSuffix),
	}
	if err := mf.write(mf.UpPath, "up"); err != nil {
		return nil, err
	}
	if err := mf.write(mf.DownPath, "down"); err != nil {
		_ = os.Remove(mf.UpPath)
		return nil, err
	}
	return mf, nil
}

func (mf *MigrationFile) write(path, direction string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	return scaffold.Execute(f, map[string]any{
		"Version":     fmt.Sprintf("%06d", mf.Version),
		"Name":        mf.Name,
		"Direction":   direction,
		"Created":     time.Now().UTC().Format(time.RFC3339),
		"Description": mf.Description,
	})
}

// sanitizeName lowercases name and joins its words with underscores
func sanitizeName(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			pendingSep = true
		}
	}
	return b.String()
}

// Migration is one versioned up/down pair found on disk
type Migration struct {
	Version uint
	Name    string
	HasDown bool
}

func (m Migration) String() string {
	s := fmt.Sprintf("%06d_%s", m.Version, m.Name)
	if !m.HasDown {
		s += " (no down)"
	}
	return s
}

// ListMigrations returns the migrations in fsys ordered by version. Files
// that do not follow the NNNNNN_name.{up,down}.sql layout are ignored.
func ListMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := make(map[uint]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var base string
		down := false
		switch {
		case strings.HasSuffix(name, upSuffix):
			base = strings.TrimSuffix(name, upSuffix)
		case strings.HasSuffix(name, downSuffix):
			base = strings.TrimSuffix(name, downSuffix)
			down = true
		default:
			continue
		}
		num, label, ok := strings.Cut(base, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			continue
		}
		m, found := byVersion[uint(v)]
		if !found {
			m = &Migration{Version: uint(v), Name: label}
			byVersion[uint(v)] = m
		}
		if down {
			m.HasDown = true
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
