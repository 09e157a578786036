package checksum

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSumKnownValue(t *testing.T) {
	const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != want {
		t.Errorf("Sum(nil) = %s", got)
	}
}

func TestFileMatchesSum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.yaml")
	data := []byte("name: Ann\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != Sum(data) {
		t.Errorf("File = %s, Sum = %s", got, Sum(data))
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "nope")); !os.IsNotExist(err) {
		t.Errorf("err = %v", err)
	}
}

func TestShort(t *testing.T) {
	if got := Short("abc"); got != "abc" {
		t.Errorf("Short = %q", got)
	}
	if got := Short(Sum(nil)); got != "e3b0c44298fc" {
		t.Errorf("Short = %q", got)
	}
}
