package policyopa

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cryptoinfra "posed/internal/infra/crypto"
)

type bundleHashFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// ComputeBundleHashFromPath fingerprints the normative files of a
// policy bundle so audit records can pin which rules were in force.
func ComputeBundleHashFromPath(bundlePath string) (string, error) {
	return computeBundleHashFromFS(os.DirFS(bundlePath))
}

func computeBundleHashFromFS(fsys fs.FS) (string, error) {
	var files []bundleHashFile
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == "." {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(filepath.Base(path), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !isNormativeFile(path) {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		files = append(files, bundleHashFile{
			Path:   filepath.ToSlash(path),
			SHA256: cryptoinfra.SHA256Hex(data),
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	canonical, err := cryptoinfra.CanonicalizeAny(map[string]any{"files": files})
	if err != nil {
		return "", err
	}
	return cryptoinfra.SHA256Hex(canonical), nil
}

func isNormativeFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return base == "data.json" || strings.HasSuffix(base, ".rego")
}
