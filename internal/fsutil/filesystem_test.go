package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	if !fsys.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}
	if fsys.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_ReplaceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.mat")
	fsys := OSFileSystem{}

	if err := os.WriteFile(path, []byte("old contents"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := ReplaceFile(fsys, path, []byte("new"), 0644); err != nil {
		t.Fatalf("ReplaceFile failed: %v", err)
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "new" {
		t.Errorf("content = %q, want %q", data, "new")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestOSFileSystem_ReplaceFileMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.mat")
	err := ReplaceFile(OSFileSystem{}, path, []byte("x"), 0644)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want fs.ErrNotExist", err)
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	if err := mfs.WriteFile("/test.txt", testData, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}

	// returned slices are copies
	data[0] = 'H'
	again, _ := mfs.ReadFile("/test.txt")
	if string(again) != string(testData) {
		t.Errorf("ReadFile result aliases storage: %q", again)
	}
}

func TestMemoryFileSystem_ReadMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_, err := mfs.ReadFile("/nope")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want fs.ErrNotExist", err)
	}
}

func TestMemoryFileSystem_ReplaceFile(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.WriteFile("/data/out.mat", []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := ReplaceFile(mfs, "/data/out.mat", []byte("new"), 0644); err != nil {
		t.Fatalf("ReplaceFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/data/out.mat")
	if err != nil || string(data) != "new" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
	for _, name := range mfs.Files() {
		if strings.Contains(name, ".tmp-") {
			t.Errorf("temporary file left behind: %s", name)
		}
	}
}

func TestMemoryFileSystem_ReadOnly(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.SetReadOnly("/locked")

	err := ReplaceFile(mfs, "/locked/out.mat", []byte("x"), 0644)
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("error = %v, want fs.ErrPermission", err)
	}
	if mfs.Exists("/locked/out.mat") {
		t.Error("file written despite read-only directory")
	}
	if len(mfs.Files()) != 0 {
		t.Errorf("files left behind: %v", mfs.Files())
	}
}

func TestMemoryFileSystem_Rename(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.Rename("/a", "/b"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("rename of missing file: %v", err)
	}
	_ = mfs.WriteFile("/a", []byte("1"), 0644)
	if err := mfs.Rename("/a", "/b"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if mfs.Exists("/a") || !mfs.Exists("/b") {
		t.Error("rename did not move the file")
	}
}

func TestMemoryFileSystem_StatAndDirs(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/a/b/c", 0755); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		info, err := mfs.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("Stat(%q) = %v, %v; want directory", dir, info, err)
		}
	}

	_ = mfs.WriteFile("/a/file", []byte("abc"), 0600)
	info, err := mfs.Stat("/a/file")
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 3 || info.Mode() != 0600 || info.Name() != "file" {
		t.Errorf("Stat = size %d mode %v name %q", info.Size(), info.Mode(), info.Name())
	}

	if err := mfs.Remove("/a/file"); err != nil {
		t.Fatal(err)
	}
	if err := mfs.Remove("/a/file"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second Remove = %v, want fs.ErrNotExist", err)
	}
}
