package main

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"asset-sync/internal/manifest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != Version {
		t.Fatalf("version got %q", out)
	}
}

func TestManifestBuildAndValidate(t *testing.T) {
	dir := t.TempDir()
	build := filepath.Join(dir, "build")
	writeFile(t, filepath.Join(build, "index.html"), "<html></html>")
	writeFile(t, filepath.Join(build, "main.dart.js"), "main")
	writeFile(t, filepath.Join(build, "flutter_service_worker.js"), "sw")
	writeFile(t, filepath.Join(build, "assets", "FontManifest.json"), "[]")

	out := filepath.Join(dir, "manifest.json")
	if _, err := run(t, "manifest", "build", build, "-o", out); err != nil {
		t.Fatalf("build: %v", err)
	}
	m, err := manifest.Load(out)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, k := range []string{"/", "index.html", "main.dart.js", "assets/FontManifest.json"} {
		if !m.Has(k) {
			t.Fatalf("manifest missing %q: %v", k, m.Keys())
		}
	}
	if m.Has("flutter_service_worker.js") {
		t.Fatalf("worker script must not be in the manifest")
	}
	if m["main.dart.js"] != "fad58de7366495db4650cfefac2fcd61" {
		t.Fatalf("main.dart.js fingerprint got %q", m["main.dart.js"])
	}

	core := filepath.Join(dir, "core.json")
	writeFile(t, core, `["main.dart.js", "index.html"]`)
	res, err := run(t, "manifest", "validate", out, "--core-shell", core)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.HasPrefix(res, "ok: 4 resources") {
		t.Fatalf("validate output %q", res)
	}

	writeFile(t, core, `["missing.js"]`)
	if _, err := run(t, "manifest", "validate", out, "--core-shell", core); err == nil {
		t.Fatalf("expected core shell validation error")
	}
}

func TestManifestDiff(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.json")
	cur := filepath.Join(dir, "new.json")
	writeFile(t, old, `{"a.js":"11111111111111111111111111111111","b.js":"22222222222222222222222222222222"}`)
	writeFile(t, cur, `{"a.js":"11111111111111111111111111111111","b.js":"33333333333333333333333333333333","c.js":"44444444444444444444444444444444"}`)

	out, err := run(t, "manifest", "diff", old, cur)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	for _, want := range []string{"added=1 removed=0 changed=1", "  + c.js", "  ~ b.js", "--- a/manifest.json", "@@"} {
		if !strings.Contains(out, want) {
			t.Fatalf("diff output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "manifest", "diff", old, old)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !strings.HasPrefix(out, "no changes") {
		t.Fatalf("identical manifests: %q", out)
	}
}

type fixture struct {
	dir    string
	config string
	origin *httptest.Server
}

func newFixture(t *testing.T, files map[string]string, m string, core string) *fixture {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(origin.Close)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "manifest.json"), m)
	writeFile(t, filepath.Join(dir, "core.json"), core)
	cfg := filepath.Join(dir, "asset-sync.yaml")
	writeFile(t, cfg, fmt.Sprintf(`origin: %s
manifest: %s
core_shell: %s
store:
  backend: fs
  path: %s
log:
  level: error
  no_color: true
`, origin.URL, filepath.Join(dir, "manifest.json"), filepath.Join(dir, "core.json"), filepath.Join(dir, "cache")))
	return &fixture{dir: dir, config: cfg, origin: origin}
}

func TestSyncOfflineAndCacheCommands(t *testing.T) {
	f := newFixture(t,
		map[string]string{"/": "root", "/main.dart.js": "main", "/assets/logo.png": "png"},
		`{"/":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","main.dart.js":"fad58de7366495db4650cfefac2fcd61","assets/logo.png":"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}`,
		`["main.dart.js"]`)

	out, err := run(t, "--config", f.config, "sync")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !strings.Contains(out, "(first run)") || !strings.Contains(out, "promoted=1") {
		t.Fatalf("sync output %q", out)
	}

	out, err = run(t, "--config", f.config, "offline", "--dry-run")
	if err != nil {
		t.Fatalf("offline dry run: %v", err)
	}
	if !strings.Contains(out, "2 resources missing") {
		t.Fatalf("dry run output %q", out)
	}
	out, err = run(t, "--config", f.config, "offline")
	if err != nil {
		t.Fatalf("offline: %v", err)
	}
	if !strings.Contains(out, "assets/logo.png") || !strings.Contains(out, "2 resources added") {
		t.Fatalf("offline output %q", out)
	}
	out, err = run(t, "--config", f.config, "offline")
	if err != nil || !strings.Contains(out, "0 resources added") {
		t.Fatalf("second offline run: %q, %v", out, err)
	}

	out, err = run(t, "--config", f.config, "sync")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if !strings.Contains(out, "(upgrade)") || !strings.Contains(out, "kept=3") {
		t.Fatalf("second sync output %q", out)
	}

	out, err = run(t, "--config", f.config, "cache", "ls", "--keys")
	if err != nil {
		t.Fatalf("cache ls: %v", err)
	}
	for _, want := range []string{"asset-app-cache", "asset-app-manifest", "published manifest: ", f.origin.URL + "/main.dart.js"} {
		if !strings.Contains(out, want) {
			t.Fatalf("cache ls missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "asset-temp-cache") {
		t.Fatalf("staging namespace must not survive activation:\n%s", out)
	}

	zipPath := filepath.Join(f.dir, "export", "cache.zip")
	if _, err := run(t, "--config", f.config, "cache", "export", zipPath); err != nil {
		t.Fatalf("cache export: %v", err)
	}
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer zr.Close()
	names := map[string]bool{}
	for _, file := range zr.File {
		names[file.Name] = true
	}
	for _, want := range []string{"manifest.json", "entries.json", "files/index", "files/main.dart.js", "files/assets/logo.png"} {
		if !names[want] {
			t.Fatalf("export missing %s: %v", want, names)
		}
	}
}

func TestSyncFailsOnUnreachableCoreShell(t *testing.T) {
	f := newFixture(t,
		map[string]string{"/": "root"},
		`{"/":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","main.dart.js":"fad58de7366495db4650cfefac2fcd61"}`,
		`["main.dart.js"]`)

	_, err := run(t, "--config", f.config, "sync")
	if err == nil || !strings.Contains(err.Error(), "main.dart.js") {
		t.Fatalf("expected install error naming main.dart.js, got %v", err)
	}
}

func TestConfigShowAndValidation(t *testing.T) {
	f := newFixture(t, nil, `{}`, `[]`)
	out, err := run(t, "--config", f.config, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "origin: "+f.origin.URL) || !strings.Contains(out, "backend: fs") {
		t.Fatalf("config show output:\n%s", out)
	}

	bad := filepath.Join(f.dir, "bad.yaml")
	writeFile(t, bad, "store:\n  backend: redis\n")
	if _, err := run(t, "--config", bad, "sync"); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Fatalf("expected invalid configuration error, got %v", err)
	}
}
