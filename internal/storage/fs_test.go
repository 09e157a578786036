package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/checksum"
	"github.com/starford/cardsync/internal/models"
)

func tempContacts(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func writeFile(t *testing.T, s *FS, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(s.Root(), name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadYAML(t *testing.T) {
	s := tempContacts(t)
	writeFile(t, s, "c1.yaml", `
name: Kevin
email:
  - type: work
    value: kevin@example.com
bday: 1927-04-01
`)
	c, err := s.Load("c1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ID != "c1" {
		t.Errorf("ID = %q, want c1", c.ID)
	}
	if len(c.Name) != 1 || c.Name[0] != "Kevin" {
		t.Errorf("Name = %v", c.Name)
	}
	if len(c.Email) != 1 || c.Email[0].Value != "kevin@example.com" || c.Email[0].Type[0] != "work" {
		t.Errorf("Email = %+v", c.Email)
	}
	if c.Bday.IsZero() {
		t.Error("expected bday")
	}
}

func TestLoadJSON(t *testing.T) {
	s := tempContacts(t)
	writeFile(t, s, "c2.json", `{"id":"own-id","name":["Ann"],"updated":1394004854000}`)
	c, err := s.Load("c2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ID != "own-id" {
		t.Errorf("ID = %q, record id should win", c.ID)
	}
	if c.Updated.Time.UnixMilli() != 1394004854000 {
		t.Errorf("Updated = %v", c.Updated.Time)
	}
}

func TestLoadMissing(t *testing.T) {
	s := tempContacts(t)
	_, err := s.Load("nope")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadMalformed(t *testing.T) {
	s := tempContacts(t)
	writeFile(t, s, "bad.yaml", "name: [unterminated\n")
	_, err := s.Load("bad")
	if !errors.Is(err, apperr.ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := tempContacts(t)
	in := &models.Contact{ID: "new", Name: models.StringList{"Zed"}, Note: models.StringList{"hi"}}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "new.yaml")); err != nil {
		t.Fatalf("expected new.yaml: %v", err)
	}
	got, err := s.Load("new")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name[0] != "Zed" || got.Note[0] != "hi" {
		t.Errorf("got %+v", got)
	}
}

func TestSaveKeepsJSON(t *testing.T) {
	s := tempContacts(t)
	writeFile(t, s, "j.json", `{"name":"Old"}`)
	if err := s.Save(&models.Contact{ID: "j", Name: models.StringList{"New"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := s.Read("j")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.HasPrefix(string(data), "{") || !strings.Contains(string(data), `"New"`) {
		t.Errorf("content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "j.yaml")); !os.IsNotExist(err) {
		t.Error("Save should not create a second record file")
	}
}

func TestDelete(t *testing.T) {
	s := tempContacts(t)
	writeFile(t, s, "del.yml", "name: bye\n")
	if err := s.Delete("del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestList(t *testing.T) {
	s := tempContacts(t)
	writeFile(t, s, "b.yaml", "name: B\n")
	writeFile(t, s, "a.json", `{"name":"A"}`)
	writeFile(t, s, "readme.txt", "skip")
	writeFile(t, s, ".hidden.yaml", "name: H\n")
	if err := os.Mkdir(filepath.Join(s.Root(), "sub.yaml"), 0o755); err != nil {
		t.Fatal(err)
	}

	metas, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(metas), metas)
	}
	if metas[0].ID != "a" || metas[1].ID != "b" {
		t.Errorf("ids = %s, %s", metas[0].ID, metas[1].ID)
	}
	if metas[1].Path != "b.yaml" {
		t.Errorf("path = %q", metas[1].Path)
	}
	if metas[1].Checksum != checksum.Sum([]byte("name: B\n")) {
		t.Errorf("checksum mismatch")
	}
}

func TestStat(t *testing.T) {
	s := tempContacts(t)
	writeFile(t, s, "x.yaml", "name: X\n")
	meta, err := s.Stat("x")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if meta.Checksum != checksum.Sum([]byte("name: X\n")) || meta.Path != "x.yaml" {
		t.Errorf("meta = %+v", meta)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempContacts(t)
	for _, id := range []string{"../etc/passwd", "a/b", "..", ""} {
		if _, err := s.Read(id); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Read(%q) err = %v, want ErrValidation", id, err)
		}
	}
}

func TestIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		id   string
		ok   bool
	}{
		{"/x/c1.yaml", "c1", true},
		{"c2.yml", "c2", true},
		{"dir/c3.json", "c3", true},
		{"note.md", "", false},
		{".cardsync-tmp-123", "", false},
		{".yaml", "", false},
	}
	for _, tt := range tests {
		id, ok := IDFromPath(tt.path)
		if ok != tt.ok || (ok && id != tt.id) {
			t.Errorf("IDFromPath(%q) = %q, %v; want %q, %v", tt.path, id, ok, tt.id, tt.ok)
		}
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	s := tempContacts(t)
	for i := range 10 {
		c := &models.Contact{ID: "atomic", Note: models.StringList{strings.Repeat("x", i*100)}}
		if err := s.Save(c); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	entries, _ := os.ReadDir(s.Root())
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".cardsync-tmp-") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/nonexistent-cardsync-test-dir-12345")
	if err == nil {
		t.Error("expected error for nonexistent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, err := os.CreateTemp("", "cardsync-test-*")
	if err != nil {
		t.Fatal(err)
	}
	_ = f.Close()
	defer func() { _ = os.Remove(f.Name()) }()

	_, err = NewFS(f.Name())
	if err == nil {
		t.Error("expected error for file path")
	}
}
