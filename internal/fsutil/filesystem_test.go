package fsutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_ReadDirSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0755); err != nil {
		t.Fatal(err)
	}

	names, err := OSFileSystem{}.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(names) != 2 || names[0] != "a.png" || names[1] != "b.png" {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestOSFileSystem_CreateAndOpen(t *testing.T) {
	fsys := OSFileSystem{}
	path := filepath.Join(t.TempDir(), "out", "combined0.png")

	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	w, err := fsys.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if !fsys.Exists(path) {
		t.Fatal("expected file to exist")
	}
	f, err := fsys.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("got %q", data)
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	fsys := NewMemoryFileSystem()

	if err := fsys.WriteFile("/data/lidar/0001.csv", []byte("1,2,3"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := fsys.ReadFile("/data/lidar/0001.csv")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "1,2,3" {
		t.Errorf("got %q", data)
	}

	// Parents are implied by the write.
	if !fsys.Exists("/data/lidar") || !fsys.Exists("/data") {
		t.Error("expected parent directories to exist")
	}
}

func TestMemoryFileSystem_DataIsolation(t *testing.T) {
	fsys := NewMemoryFileSystem()
	original := []byte("abc")
	if err := fsys.WriteFile("/f", original, 0644); err != nil {
		t.Fatal(err)
	}
	original[0] = 'z'

	got, _ := fsys.ReadFile("/f")
	got[1] = 'z'
	again, _ := fsys.ReadFile("/f")
	if string(again) != "abc" {
		t.Errorf("stored data was mutated: %q", again)
	}
}

func TestMemoryFileSystem_CreateVisibleOnClose(t *testing.T) {
	fsys := NewMemoryFileSystem()
	w, err := fsys.Create("/figs/combined3.png")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("png")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	info, err := fsys.Stat("/figs/combined3.png")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 3 || info.IsDir() {
		t.Errorf("unexpected info: size=%d dir=%v", info.Size(), info.IsDir())
	}
}

func TestMemoryFileSystem_ReadDir(t *testing.T) {
	fsys := NewMemoryFileSystem()
	_ = fsys.WriteFile("/root/radar/2.png", nil, 0644)
	_ = fsys.WriteFile("/root/radar/1.png", nil, 0644)
	_ = fsys.WriteFile("/root/radar/deeper/3.png", nil, 0644)

	names, err := fsys.ReadDir("/root/radar")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(names) != 2 || names[0] != "1.png" || names[1] != "2.png" {
		t.Errorf("unexpected names: %v", names)
	}

	if _, err := fsys.ReadDir("/root/missing"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestMemoryFileSystem_OpenNonExistent(t *testing.T) {
	fsys := NewMemoryFileSystem()
	if _, err := fsys.Open("/nope"); err == nil {
		t.Error("expected error opening missing file")
	}
	if _, err := fsys.Stat("/nope"); err == nil {
		t.Error("expected error stating missing file")
	}
}

func TestListFiles(t *testing.T) {
	fsys := NewMemoryFileSystem()
	for _, name := range []string{"c.txt", "a.csv", "b.png", "notes.md"} {
		_ = fsys.WriteFile(filepath.Join("/ds/lidar", name), nil, 0644)
	}

	got, err := ListFiles(fsys, "/ds/lidar", "csv", "txt")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	want := []string{"a.csv", "c.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if _, err := ListFiles(fsys, "/ds/radar", "png"); err == nil {
		t.Error("expected error for missing directory")
	}
}
