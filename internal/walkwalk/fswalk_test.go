package walkwalk

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestCollectFilesSortedWithFingerprints(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.dart.js", "main")
	writeFile(t, root, "assets/FontManifest.json", "[]")
	writeFile(t, root, "index.html", "<html></html>")

	files, err := CollectFiles(root, Options{})
	if err != nil {
		t.Fatalf("CollectFiles: %v", err)
	}
	want := []string{"assets/FontManifest.json", "index.html", "main.dart.js"}
	if len(files) != len(want) {
		t.Fatalf("got %d files", len(files))
	}
	for i, f := range files {
		if f.RelPath != want[i] {
			t.Fatalf("files[%d]=%q want %q", i, f.RelPath, want[i])
		}
		if len(f.MD5Hex) != 32 {
			t.Fatalf("md5 of %s has len %d", f.RelPath, len(f.MD5Hex))
		}
	}
	// md5("main")
	if files[2].MD5Hex != "fad58de7366495db4650cfefac2fcd61" {
		t.Fatalf("md5 got %s", files[2].MD5Hex)
	}
}

func TestCollectFilesExcludeAndSkip(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.js", "a")
	writeFile(t, root, "service_worker.js", "sw")
	writeFile(t, root, ".DS_Store", "x")
	writeFile(t, root, "node_modules/x.js", "x")

	files, err := CollectFiles(root, Options{
		Exclude: []string{".DS_Store", "node_modules"},
		Skip:    []string{"service_worker.js"},
	})
	if err != nil {
		t.Fatalf("CollectFiles: %v", err)
	}
	if len(files) != 1 || files[0].RelPath != "app.js" {
		t.Fatalf("unexpected files: %#v", files)
	}
}

func TestCollectFilesIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".syncignore", "*.map\n/tmp/\n!keep.map\n")
	writeFile(t, root, "a.js", "a")
	writeFile(t, root, "a.js.map", "m")
	writeFile(t, root, "keep.map", "k")
	writeFile(t, root, "tmp/x", "x")

	files, err := CollectFiles(root, Options{UseIgnoreFile: true, IgnoreFile: ".syncignore", Exclude: []string{".syncignore"}})
	if err != nil {
		t.Fatalf("CollectFiles: %v", err)
	}
	got := make([]string, 0, len(files))
	for _, f := range files {
		got = append(got, f.RelPath)
	}
	if len(got) != 2 || got[0] != "a.js" || got[1] != "keep.map" {
		t.Fatalf("got %v", got)
	}
}
