// Package walkwalk provides a deterministic, filterable filesystem walker
// used to fingerprint a web build output directory.
package walkwalk

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// FileInfo is a minimal, deterministic descriptor of a collected file.
type FileInfo struct {
	RelPath string // root-relative path with forward slashes
	AbsPath string // absolute filesystem path
	Size    int64  // size in bytes
	MD5Hex  string // lowercase hex md5 of the file contents
}

// Options controls which files CollectFiles returns.
type Options struct {
	// Exclude skips any file or directory whose base name equals or starts
	// with one of these entries.
	Exclude []string
	// Skip drops exact root-relative paths (e.g. the worker script itself).
	Skip []string
	// MaxFileBytes skips larger files (0 = no limit).
	MaxFileBytes int64
	// UseIgnoreFile honors <root>/.gitignore-style patterns from IgnoreFile.
	UseIgnoreFile  bool
	IgnoreFile     string
	FollowSymlinks bool
}

type walkState struct {
	opts     Options
	root     string
	exclude  map[string]struct{}
	skip     map[string]struct{}
	patterns []gitPattern
	files    []FileInfo
}

// CollectFiles walks src and returns the matching files sorted by RelPath.
func CollectFiles(src string, opts Options) ([]FileInfo, error) {
	root, err := filepath.Abs(src)
	if err != nil {
		return nil, err
	}
	st := &walkState{
		opts:    opts,
		root:    root,
		exclude: toSet(opts.Exclude),
		skip:    toSet(opts.Skip),
	}
	if opts.UseIgnoreFile {
		name := opts.IgnoreFile
		if name == "" {
			name = ".gitignore"
		}
		if pats, err := parseGitignore(filepath.Join(root, name)); err == nil {
			st.patterns = pats
		}
	}
	if err := filepath.WalkDir(root, st.visit); err != nil {
		return nil, err
	}
	sort.Slice(st.files, func(i, j int) bool { return st.files[i].RelPath < st.files[j].RelPath })
	return st.files, nil
}

func toSet(list []string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, v := range list {
		if v = strings.TrimSpace(v); v != "" {
			m[v] = struct{}{}
		}
	}
	return m
}

func (ws *walkState) visit(path string, d fs.DirEntry, err error) error {
	if err != nil {
		return err
	}
	rel, ok := ws.relative(path)
	if !ok || rel == "." {
		return nil
	}
	if ws.shouldSkip(rel, d) {
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}
	if d.IsDir() {
		if !ws.opts.FollowSymlinks && isSymlink(d) {
			return filepath.SkipDir
		}
		return nil
	}
	return ws.handleFile(path, rel, d)
}

func (ws *walkState) relative(path string) (string, bool) {
	rel, err := filepath.Rel(ws.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return "", false
	}
	return rel, true
}

func (ws *walkState) shouldSkip(rel string, d fs.DirEntry) bool {
	base := filepath.Base(rel)
	if _, bad := ws.exclude[base]; bad || hasExcludedPrefix(base, ws.exclude) {
		return true
	}
	if _, skip := ws.skip[rel]; skip && !d.IsDir() {
		return true
	}
	return matchGitignore(ws.patterns, rel, d.IsDir())
}

func (ws *walkState) handleFile(path, rel string, d fs.DirEntry) error {
	if !ws.opts.FollowSymlinks && isSymlink(d) {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	if ws.opts.MaxFileBytes > 0 && info.Size() > ws.opts.MaxFileBytes {
		return nil
	}
	sum, err := md5File(path)
	if err != nil {
		return err
	}
	ws.files = append(ws.files, FileInfo{
		RelPath: rel,
		AbsPath: path,
		Size:    info.Size(),
		MD5Hex:  sum,
	})
	return nil
}

// isSymlink reports whether the DirEntry is a symlink (file or directory).
func isSymlink(d fs.DirEntry) bool {
	return d.Type()&fs.ModeSymlink != 0
}

// hasExcludedPrefix reports whether base begins with any of the exclude keys.
func hasExcludedPrefix(base string, exclude map[string]struct{}) bool {
	for k := range exclude {
		if strings.HasPrefix(base, k) {
			return true
		}
	}
	return false
}

// md5File computes the hex-encoded md5 of the file at path. Fingerprints are
// change detectors, not a security boundary.
func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ---------------- ignore file support ----------------

type gitPattern struct {
	neg     bool           // pattern starts with '!'
	dirOnly bool           // pattern ends with '/'
	rx      *regexp.Regexp // compiled matcher
}

// parseGitignore reads an ignore file and compiles patterns. Minimal support:
//   - '#' comments, blank lines ignored
//   - '!' negation
//   - leading '/' anchors to the root
//   - trailing '/' restricts to directories
//   - '**' matches across directories
//   - '*' and '?' behave like shell globs (not crossing '/')
func parseGitignore(path string) ([]gitPattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var res []gitPattern
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		neg := false
		if strings.HasPrefix(line, "!") {
			neg = true
			line = strings.TrimSpace(line[1:])
			if line == "" {
				continue
			}
		}
		dirOnly := strings.HasSuffix(line, "/")
		line = strings.TrimSuffix(line, "/")
		anchored := strings.HasPrefix(line, "/")
		line = strings.TrimPrefix(line, "/")
		res = append(res, gitPattern{neg: neg, dirOnly: dirOnly, rx: compileGitGlob(line, anchored)})
	}
	return res, s.Err()
}

func compileGitGlob(glob string, anchored bool) *regexp.Regexp {
	esc := regexp.QuoteMeta(glob)
	esc = strings.ReplaceAll(esc, "\\*\\*", "__DOUBLESTAR__")
	esc = strings.ReplaceAll(esc, "\\*", "[^/]*")
	esc = strings.ReplaceAll(esc, "\\?", "[^/]")
	esc = strings.ReplaceAll(esc, "__DOUBLESTAR__", ".*")
	if anchored {
		return regexp.MustCompile("^" + esc + "$")
	}
	return regexp.MustCompile("(^|.*/)" + esc + "$")
}

func matchGitignore(pats []gitPattern, rel string, isDir bool) bool {
	ignored := false
	for _, p := range pats {
		if p.rx.MatchString(rel) {
			if p.dirOnly && !isDir {
				continue
			}
			ignored = !p.neg
		}
	}
	return ignored
}
