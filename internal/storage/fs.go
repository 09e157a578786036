package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/checksum"
	"github.com/starford/cardsync/internal/models"
)

// Extensions lists the accepted record file extensions in lookup order.
var Extensions = []string{".yaml", ".yml", ".json"}

// FS implements Provider over a flat directory of record files named
// <id>.yaml, <id>.yml or <id>.json.
type FS struct {
	root string // absolute path to the contacts directory
}

var _ Provider = (*FS)(nil)

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute contacts directory.
func (f *FS) Root() string {
	return f.root
}

// IDFromPath returns the contact id of a record file path, or false when
// the path is not a record file.
func IDFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return "", false
	}
	ext := filepath.Ext(name)
	if !slices.Contains(Extensions, ext) {
		return "", false
	}
	id := strings.TrimSuffix(name, ext)
	return id, validID(id) == nil
}

func validID(id string) error {
	switch {
	case id == "":
		return errors.New("empty contact id")
	case strings.ContainsAny(id, `/\`), id == ".", id == "..":
		return fmt.Errorf("invalid contact id %q", id)
	}
	return nil
}

// locate returns the path of the existing record file for id.
func (f *FS) locate(id string) (string, error) {
	if err := validID(id); err != nil {
		return "", apperr.Validation("storage: locate", err)
	}
	for _, ext := range Extensions {
		p := filepath.Join(f.root, id+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("storage: contact %s: %w", id, apperr.ErrNotFound)
}

// List returns metadata for every record file, sorted by id.
func (f *FS) List() ([]models.ContactMeta, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	seen := make(map[string]struct{}, len(entries))
	var out []models.ContactMeta
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := IDFromPath(e.Name())
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		meta, err := f.meta(id, e)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	slices.SortFunc(out, func(a, b models.ContactMeta) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Stat returns the metadata of the record for id.
func (f *FS) Stat(id string) (models.ContactMeta, error) {
	p, err := f.locate(id)
	if err != nil {
		return models.ContactMeta{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return models.ContactMeta{}, fmt.Errorf("storage: stat %s: %w", id, err)
	}
	return f.meta(id, fs.FileInfoToDirEntry(info))
}

func (f *FS) meta(id string, e fs.DirEntry) (models.ContactMeta, error) {
	info, err := e.Info()
	if err != nil {
		return models.ContactMeta{}, fmt.Errorf("storage: stat %s: %w", id, err)
	}
	sum, err := checksum.File(filepath.Join(f.root, e.Name()))
	if err != nil {
		return models.ContactMeta{}, fmt.Errorf("storage: read %s: %w", id, err)
	}
	return models.ContactMeta{
		ID:        id,
		Path:      e.Name(),
		Checksum:  sum,
		UpdatedAt: info.ModTime(),
	}, nil
}

// Read returns the raw bytes of the record for id.
func (f *FS) Read(id string) ([]byte, error) {
	p, err := f.locate(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", id, err)
	}
	return data, nil
}

// Load decodes the record for id. A record without its own id takes the
// file name.
func (f *FS) Load(id string) (*models.Contact, error) {
	data, err := f.Read(id)
	if err != nil {
		return nil, err
	}
	c, err := Decode(data)
	if err != nil {
		return nil, apperr.Parse("storage: load "+id, err)
	}
	if c.ID == "" {
		c.ID = id
	}
	return c, nil
}

// Decode parses a YAML or JSON contact record.
func Decode(data []byte) (*models.Contact, error) {
	var c models.Contact
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save writes c to the existing record file for c.ID, or to a new
// <id>.yaml file.
func (f *FS) Save(c *models.Contact) error {
	if c == nil {
		return apperr.Validation("storage: save", errors.New("nil contact"))
	}
	p, err := f.locate(c.ID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		p = filepath.Join(f.root, c.ID+".yaml")
	case err != nil:
		return err
	}

	var data []byte
	if filepath.Ext(p) == ".json" {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", c.ID, err)
	}
	return f.write(p, data)
}

// write atomically writes content: tmp file → fsync → rename.
func (f *FS) write(abs string, content []byte) error {
	tmp, err := os.CreateTemp(f.root, ".cardsync-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes the record for id.
func (f *FS) Delete(id string) error {
	p, err := f.locate(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("storage: delete %s: %w", id, err)
	}
	return nil
}
