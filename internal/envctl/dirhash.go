package envctl

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ImageTag computes the content-addressed tag for a subtask's build
// context directory: <namespace>/<subtask_kind_lowercase>:<md5 of the
// directory's sorted file contents>. Deterministic over content, so
// building the same source tree twice yields the same tag.
func ImageTag(namespace, subtaskKind, sourceDir string) (string, error) {
	hash, err := dirHash(sourceDir)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s:%s", namespace, strings.ToLower(subtaskKind), hash), nil
}

func dirHash(dir string) (string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("dirhash walk: %w", err)
	}
	sort.Strings(paths)

	h := md5.New()
	for _, p := range paths {
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return "", err
		}
		io.WriteString(h, filepath.ToSlash(rel))
		f, err := os.Open(p)
		if err != nil {
			return "", fmt.Errorf("dirhash open %s: %w", p, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("dirhash read %s: %w", p, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
