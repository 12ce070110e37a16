package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const digestPrefix = "sha256:"

func DigestBytes(raw []byte) string {
	h := sha256.Sum256(raw)
	return digestPrefix + hex.EncodeToString(h[:])
}

// DigestFile streams path through sha256 and returns the prefixed digest and
// the number of bytes read.
func DigestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open file %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash file %s: %w", path, err)
	}
	return digestPrefix + hex.EncodeToString(h.Sum(nil)), n, nil
}

// DigestTree digests every regular file under root and hashes the sorted
// manifest of "relpath\x00digest\x00size" lines. Paths use forward slashes
// so the result does not depend on the host OS.
func DigestTree(root string) (string, error) {
	var lines []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		digest, size, err := DigestFile(path)
		if err != nil {
			return err
		}
		lines = append(lines, fmt.Sprintf("%s\x00%s\x00%d\n", filepath.ToSlash(rel), digest, size))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk tree %s: %w", root, err)
	}
	sort.Strings(lines)
	return DigestBytes([]byte(strings.Join(lines, ""))), nil
}

// ContentHash digests a file or directory and returns the bare hex form,
// which is alphanumeric and so usable as a milestone or proof hash.
func ContentHash(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	var digest string
	if fi.IsDir() {
		digest, err = DigestTree(path)
	} else {
		digest, _, err = DigestFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(digest, digestPrefix), nil
}
