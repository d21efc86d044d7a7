package manifest

import (
	"fmt"

	"asset-sync/internal/walkwalk"
)

// DefaultExclude lists build-directory entries that never belong in a manifest.
var DefaultExclude = []string{".DS_Store", ".git", ".last_build_id"}

// BuildOptions controls Build.
type BuildOptions struct {
	// WorkerScript is the agent's own script; it is never part of the
	// resources it manages.
	WorkerScript string
	// IndexFile is the document served for the root key.
	IndexFile string
	Exclude   []string
	// IgnoreFile, when set, names a gitignore-style file in the build root.
	IgnoreFile string
}

// Build fingerprints every file of a build output directory. The root key
// maps to the fingerprint of the index document when it exists.
func Build(dir string, opts BuildOptions) (Manifest, error) {
	if opts.IndexFile == "" {
		opts.IndexFile = "index.html"
	}
	exclude := opts.Exclude
	if exclude == nil {
		exclude = DefaultExclude
	}
	var skip []string
	if opts.WorkerScript != "" {
		skip = append(skip, opts.WorkerScript)
	}
	if opts.IgnoreFile != "" {
		skip = append(skip, opts.IgnoreFile)
	}

	files, err := walkwalk.CollectFiles(dir, walkwalk.Options{
		Exclude:       exclude,
		Skip:          skip,
		UseIgnoreFile: opts.IgnoreFile != "",
		IgnoreFile:    opts.IgnoreFile,
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	m := make(Manifest, len(files)+1)
	for _, f := range files {
		m[f.RelPath] = f.MD5Hex
	}
	if fp, ok := m[opts.IndexFile]; ok {
		m[RootKey] = fp
	}
	return m, nil
}
