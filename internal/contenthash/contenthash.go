// Package contenthash provides deterministic content digests used to detect changes between runs.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Separator joins the system prompt and prompt before hashing so that ("ab", "c") and ("a", "bc")
// never collide.
const Separator = "\x00"

const unitPrefix = "unit:"

// FileStat is the result of hashing a file on disk.
type FileStat struct {
	Hash         string
	SizeBytes    int64
	LastModified time.Time
}

// Bytes returns the hex-encoded SHA-256 digest of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// String returns the hex-encoded SHA-256 digest of s.
func String(s string) string {
	return Bytes([]byte(s))
}

// File streams the file at path through SHA-256 and returns the digest together with its size
// and modification time.
func File(path string) (FileStat, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileStat{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileStat{}, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return FileStat{}, fmt.Errorf("not a regular file: %s", path)
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return FileStat{}, fmt.Errorf("hash file: %w", err)
	}
	return FileStat{
		Hash:         hex.EncodeToString(h.Sum(nil)),
		SizeBytes:    info.Size(),
		LastModified: info.ModTime().UTC(),
	}, nil
}

// Prompt returns the exact-match key for a generation call.
func Prompt(systemPrompt, prompt string) string {
	return String(systemPrompt + Separator + prompt)
}

// UnitID returns a stable identifier for an extracted unit. The same file path, kind, name and
// start line always yield the same ID.
func UnitID(relPath, kind, name string, startLine int) string {
	key := filepath.ToSlash(filepath.Clean(relPath)) + Separator + kind + Separator + name + Separator + strconv.Itoa(startLine)
	return unitPrefix + String(key)[:32]
}
