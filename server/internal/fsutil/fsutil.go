// Package fsutil holds the filesystem plumbing shared by the download
// strategies: filename hygiene, collision-safe destination paths and
// per-task scratch directories.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxFilenameLen = 200

// invalid on Windows and awkward everywhere else
const invalidChars = `<>:"/\|?*`

// SanitizeFilename strips characters that cannot appear in a portable
// filename, trims leading and trailing dots and spaces and caps the
// length on a rune boundary. An empty outcome falls back to
// "download".
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(invalidChars, r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), ". ")
	if len(out) > maxFilenameLen {
		cut := maxFilenameLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = strings.Trim(out[:cut], ". ")
	}
	if out == "" {
		return "download"
	}
	return out
}

// FilenameFromURL derives a sane filename from the path component of a
// download URL.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name, err := url.PathUnescape(path.Base(u.Path))
	if err != nil || name == "." || name == "/" {
		return "download"
	}
	return SanitizeFilename(name)
}

// UniquePath claims p when it is free, otherwise the first free
// "name (N).ext" variant. The returned path already exists as an
// empty exclusive-create placeholder, so two callers finalizing the
// same name can never receive the same destination; the caller moves
// the real file over it (and removes it when the move fails).
func UniquePath(p string) (string, error) {
	if err := claim(p); err == nil {
		return p, nil
	} else if !errors.Is(err, fs.ErrExist) {
		return "", err
	}

	dir := filepath.Dir(p)
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(filepath.Base(p), ext)

	for counter := 1; ; counter++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, counter, ext))
		if err := claim(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
}

func claim(path string) error {
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return fd.Close()
}

// MakeWorkspace creates a private scratch directory for one task under
// root (the system temp dir when root is empty). The caller removes it
// when the task winds down.
func MakeWorkspace(root, id string) (string, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0755); err != nil {
			return "", err
		}
	}
	return os.MkdirTemp(root, "jdi-"+shortId(id)+"-")
}

func shortId(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// MoveFile renames src to dst, falling back to copy-then-delete when
// the two live on different filesystems. The copy lands under a .part
// name first so dst never holds a half file.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	part := dst + ".part"
	out, err := os.Create(part)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(part)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		return err
	}
	if err := os.Rename(part, dst); err != nil {
		os.Remove(part)
		return err
	}
	return os.Remove(src)
}
