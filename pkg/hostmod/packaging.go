// SPDX-License-Identifier: MPL-2.0

package hostmod

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultMaxEntries bounds the number of entries in an uploaded archive.
	DefaultMaxEntries = 10000
	// DefaultMaxBytes bounds the total uncompressed size of an uploaded archive (512 MiB).
	DefaultMaxBytes int64 = 512 << 20
)

var (
	// ErrUnsafePath is the sentinel error wrapped by UnsafePathError.
	ErrUnsafePath = errors.New("unsafe path in archive")
	// ErrArchiveTooLarge is returned when an archive exceeds the extraction limits.
	ErrArchiveTooLarge = errors.New("archive exceeds extraction limits")
	// ErrInvalidArchive is returned when the payload is not a readable zip.
	ErrInvalidArchive = errors.New("invalid archive")
	// ErrMissingManifest is returned when no manifest.json can be located.
	ErrMissingManifest = errors.New("missing manifest.json")
)

type (
	// ExtractOptions bounds what Extract is willing to write.
	ExtractOptions struct {
		MaxEntries int
		MaxBytes   int64
	}

	// UnsafePathError is returned when an archive entry would land outside the
	// extraction directory or is otherwise not a plain file or directory.
	UnsafePathError struct {
		Entry  string
		Reason string
	}
)

// Error implements the error interface.
func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("unsafe path in archive %q: %s", e.Entry, e.Reason)
}

// Unwrap returns ErrUnsafePath for errors.Is() compatibility.
func (e *UnsafePathError) Unwrap() error { return ErrUnsafePath }

// DefaultExtractOptions returns the built-in extraction limits.
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{MaxEntries: DefaultMaxEntries, MaxBytes: DefaultMaxBytes}
}

// Extract explodes an untrusted zip payload into destDir. Every entry is
// resolved against destDir and rejected if it would escape it. On any failure
// destDir is removed so no partial extraction survives.
func Extract(data []byte, destDir string, opts ExtractOptions) (err error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return fmt.Errorf("failed to resolve extraction directory: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(absDest) // Best-effort cleanup of the partial extraction
		}
	}()

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	if reader == nil {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	if len(reader.File) > opts.MaxEntries {
		return fmt.Errorf("%w: %d entries (limit %d)", ErrArchiveTooLarge, len(reader.File), opts.MaxEntries)
	}

	if err = os.MkdirAll(absDest, 0o755); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}

	remaining := opts.MaxBytes
	for _, file := range reader.File {
		target, pathErr := SafeJoin(absDest, file.Name)
		if pathErr != nil {
			return pathErr
		}
		if target == absDest {
			continue
		}

		mode := file.Mode()
		switch {
		case mode&os.ModeSymlink != 0:
			return &UnsafePathError{Entry: file.Name, Reason: "symbolic links are not allowed"}
		case file.FileInfo().IsDir():
			if err = os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", file.Name, err)
			}
			continue
		case !mode.IsRegular():
			return &UnsafePathError{Entry: file.Name, Reason: "only regular files and directories are allowed"}
		}

		if err = os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create parent directory for %s: %w", file.Name, err)
		}
		var written int64
		written, err = extractFile(file, target, remaining)
		if err != nil {
			return err
		}
		remaining -= written
	}

	return nil
}

// SafeJoin resolves an archive entry name under root. It rejects empty and
// absolute names, drive letters, parent references (also in percent-encoded
// form) and anything whose cleaned result is not contained in root.
func SafeJoin(root, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", &UnsafePathError{Entry: name, Reason: "empty or malformed name"}
	}

	normalized := strings.ReplaceAll(name, `\`, "/")
	candidates := []string{normalized}
	if decoded, err := url.PathUnescape(normalized); err == nil && decoded != normalized {
		candidates = append(candidates, strings.ReplaceAll(decoded, `\`, "/"))
	}

	for _, c := range candidates {
		if strings.HasPrefix(c, "/") || hasDriveLetter(c) {
			return "", &UnsafePathError{Entry: name, Reason: "absolute paths are not allowed"}
		}
		for _, segment := range strings.Split(c, "/") {
			if segment == ".." {
				return "", &UnsafePathError{Entry: name, Reason: "parent directory references are not allowed"}
			}
		}
	}

	target := filepath.Join(root, filepath.FromSlash(path.Clean(normalized)))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", &UnsafePathError{Entry: name, Reason: "resolves outside the extraction directory"}
	}
	return target, nil
}

func hasDriveLetter(p string) bool {
	return len(p) >= 2 && p[1] == ':' && ((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}

// extractFile copies one entry, refusing to write more than limit bytes.
func extractFile(file *zip.File, destPath string, limit int64) (written int64, err error) {
	rc, err := file.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", file.Name, err)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	perm := file.Mode().Perm()&0o755 | 0o600
	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if os.IsExist(err) {
			return 0, &UnsafePathError{Entry: file.Name, Reason: "duplicate entry"}
		}
		return 0, fmt.Errorf("failed to create %s: %w", file.Name, err)
	}
	defer func() {
		if closeErr := dest.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	// Declared sizes are attacker-controlled; count what is actually inflated.
	written, err = io.Copy(dest, io.LimitReader(rc, limit+1))
	if err != nil {
		return written, fmt.Errorf("failed to extract %s: %w", file.Name, err)
	}
	if written > limit {
		return written, fmt.Errorf("%w: uncompressed size exceeds limit", ErrArchiveTooLarge)
	}
	return written, nil
}

// LocateManifest makes sure root has manifest.json at its top level,
// promoting a single wrapping folder when that is the only thing in root.
func LocateManifest(root string) error {
	if fileExists(filepath.Join(root, ManifestFileName)) {
		return nil
	}
	promoted, err := PromoteSingleRoot(root)
	if err != nil {
		return err
	}
	if promoted {
		return nil
	}
	return ErrMissingManifest
}

// PromoteSingleRoot hoists the contents of root's only subdirectory into root
// when root holds no loose files and that subdirectory contains manifest.json.
// It reports whether a promotion happened.
func PromoteSingleRoot(root string) (bool, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return false, fmt.Errorf("failed to read staging directory: %w", err)
	}

	var dirs []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() {
			return false, nil
		}
		dirs = append(dirs, e)
	}
	if len(dirs) != 1 {
		return false, nil
	}

	sub := filepath.Join(root, dirs[0].Name())
	if !fileExists(filepath.Join(sub, ManifestFileName)) {
		return false, nil
	}

	// Move aside first so a child named like its parent cannot collide.
	tmp := filepath.Join(root, "."+uuid.NewString())
	if err := os.Rename(sub, tmp); err != nil {
		return false, fmt.Errorf("failed to promote %s: %w", dirs[0].Name(), err)
	}
	children, err := os.ReadDir(tmp)
	if err != nil {
		return false, fmt.Errorf("failed to promote %s: %w", dirs[0].Name(), err)
	}
	for _, c := range children {
		if err := os.Rename(filepath.Join(tmp, c.Name()), filepath.Join(root, c.Name())); err != nil {
			return false, fmt.Errorf("failed to promote %s: %w", c.Name(), err)
		}
	}
	if err := os.Remove(tmp); err != nil {
		return false, fmt.Errorf("failed to promote %s: %w", dirs[0].Name(), err)
	}
	return true, nil
}

// Pack writes the contents of srcDir to w as a zip whose root is srcDir
// itself, so manifest.json lands at the archive root.
func Pack(srcDir string, w io.Writer) (err error) {
	absSrc, err := filepath.Abs(srcDir)
	if err != nil {
		return fmt.Errorf("failed to resolve source directory: %w", err)
	}
	if !fileExists(filepath.Join(absSrc, ManifestFileName)) {
		return fmt.Errorf("%w in %s", ErrMissingManifest, absSrc)
	}

	zw := zip.NewWriter(w)
	defer func() {
		if closeErr := zw.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return filepath.WalkDir(absSrc, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, relErr := filepath.Rel(absSrc, p)
		if relErr != nil {
			return fmt.Errorf("failed to get relative path: %w", relErr)
		}
		if rel == "." {
			return nil
		}
		zipPath := filepath.ToSlash(rel)

		if d.IsDir() {
			_, createErr := zw.Create(zipPath + "/")
			return createErr
		}
		if !d.Type().IsRegular() {
			// Links and devices are never packed.
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return fmt.Errorf("failed to get file info: %w", infoErr)
		}
		header, headerErr := zip.FileInfoHeader(info)
		if headerErr != nil {
			return fmt.Errorf("failed to create file header: %w", headerErr)
		}
		header.Name = zipPath
		header.Method = zip.Deflate

		entry, createErr := zw.CreateHeader(header)
		if createErr != nil {
			return fmt.Errorf("failed to create zip entry: %w", createErr)
		}
		return copyFileInto(entry, p)
	})
}

// PackFile packs srcDir into outPath and returns the absolute archive path.
// The output is removed again if packing fails.
func PackFile(srcDir, outPath string) (archivePath string, err error) {
	absOut, err := filepath.Abs(outPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output path: %w", err)
	}
	f, err := os.Create(absOut)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(absOut) // Best-effort cleanup
		}
	}()

	if err = Pack(srcDir, f); err != nil {
		return "", fmt.Errorf("failed to pack module: %w", err)
	}
	return absOut, nil
}

func copyFileInto(w io.Writer, path string) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	_, err = io.Copy(w, f)
	return err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
