// Package archive extracts a project archive into a scratch directory,
// generalizing the zip/tar/gzip content-listing idiom into actual,
// path-traversal-safe extraction with a cumulative size bound (spec.md
// §4.11 step 3).
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when an archive entry's normalized
// destination would escape the extraction root.
var ErrPathTraversal = fmt.Errorf("archive: entry escapes extraction root")

// ErrTooLarge is returned when extraction would exceed the configured
// cumulative uncompressed size bound.
var ErrTooLarge = fmt.Errorf("archive: uncompressed size exceeds limit")

// ErrTooManyEntries is returned when an archive carries more entries than
// the configured bound.
var ErrTooManyEntries = fmt.Errorf("archive: entry count exceeds limit")

// Format identifies a supported archive container.
type Format string

// Supported archive formats.
const (
	FormatZip    Format = "zip"
	FormatTarGz  Format = "tar.gz"
	FormatTar    Format = "tar"
	FormatUnknown Format = ""
)

// DetectFormat infers the archive format from a file name.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)

	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	default:
		return FormatUnknown
	}
}

// Limits bounds an extraction run.
type Limits struct {
	MaxTotalBytes int64
	MaxEntries    int
}

// Extract reads the archive at srcPath (in the given format) and writes
// its entries under destDir, which must already exist. It refuses any
// entry whose cleaned destination path would land outside destDir, and
// aborts once the cumulative uncompressed size or entry count would
// exceed limits.
func Extract(srcPath string, format Format, destDir string, limits Limits) error {
	switch format {
	case FormatZip:
		return extractZip(srcPath, destDir, limits)
	case FormatTarGz:
		return extractTarGz(srcPath, destDir, limits)
	case FormatTar:
		return extractTar(srcPath, destDir, limits)
	default:
		return fmt.Errorf("archive: unsupported format %q", format)
	}
}

func extractZip(srcPath, destDir string, limits Limits) error {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return fmt.Errorf("archive: open zip: %w", err)
	}
	defer r.Close()

	if limits.MaxEntries > 0 && len(r.File) > limits.MaxEntries {
		return ErrTooManyEntries
	}

	var total int64

	for _, f := range r.File {
		destPath, err := resolveEntry(destDir, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("archive: mkdir: %w", err)
			}

			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("archive: open entry %q: %w", f.Name, err)
		}

		written, err := writeEntry(destPath, rc, limits.MaxTotalBytes-total)
		rc.Close()

		if err != nil {
			return err
		}

		total += written
	}

	return nil
}

func extractTarGz(srcPath, destDir string, limits Limits) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("archive: open: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("archive: gzip reader: %w", err)
	}
	defer gr.Close()

	return extractTarReader(tar.NewReader(gr), destDir, limits)
}

func extractTar(srcPath, destDir string, limits Limits) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("archive: open: %w", err)
	}
	defer f.Close()

	return extractTarReader(tar.NewReader(f), destDir, limits)
}

func extractTarReader(tr *tar.Reader, destDir string, limits Limits) error {
	var total int64

	entries := 0

	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return fmt.Errorf("archive: read tar entry: %w", err)
		}

		entries++
		if limits.MaxEntries > 0 && entries > limits.MaxEntries {
			return ErrTooManyEntries
		}

		destPath, err := resolveEntry(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("archive: mkdir: %w", err)
			}
		case tar.TypeReg:
			written, err := writeEntry(destPath, tr, limits.MaxTotalBytes-total)
			if err != nil {
				return err
			}

			total += written
		default:
			// symlinks, devices, and other special entries are skipped:
			// the analysis pipeline only ever reads regular files.
		}
	}
}

// resolveEntry cleans name and joins it under destDir, refusing any entry
// whose normalized path would escape destDir (the same check blob/fs
// applies to blob keys).
func resolveEntry(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}

	path := filepath.Join(destDir, cleaned)

	root := filepath.Clean(destDir)
	if path != root && !strings.HasPrefix(path, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}

	return path, nil
}

// writeEntry streams r into destPath, refusing to write more than
// remaining bytes, and returns the number of bytes actually written.
func writeEntry(destPath string, r io.Reader, remaining int64) (int64, error) {
	if remaining <= 0 {
		return 0, ErrTooLarge
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("archive: mkdir: %w", err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("archive: create %q: %w", destPath, err)
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(r, remaining+1))
	if err != nil {
		return written, fmt.Errorf("archive: write %q: %w", destPath, err)
	}

	if written > remaining {
		return written, ErrTooLarge
	}

	return written, nil
}
