// Package archive unpacks the compressed binary archives fetched from
// the upstream release source. The pipeline assumes each archive
// carries exactly one executable; any other layout fails closed so the
// wrong file is never packaged into the runtime image.
package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"davit/pkg/bytesize"
)

// ErrUnexpectedLayout is returned when an archive does not contain
// exactly one top-level executable.
var ErrUnexpectedLayout = errors.New("unexpected archive layout")

// DefaultMaxBinarySize bounds extraction so a malformed archive cannot
// fill the disk. Release binaries are tens of megabytes.
const DefaultMaxBinarySize = 2 << 30

// ExtractExecutable unpacks the gzip-compressed tar archive at
// archivePath into destDir and returns the path of the single
// executable it contained. Entries may sit under one top-level
// directory (the common <name>-<version>/ convention); nested
// directories, multiple regular files, or zero executable entries all
// yield ErrUnexpectedLayout. maxSize caps the extracted entry;
// DefaultMaxBinarySize is used when it is zero.
func ExtractExecutable(archivePath, destDir string, maxSize int64) (string, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxBinarySize
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not gzip compressed: %v", ErrUnexpectedLayout, filepath.Base(archivePath), err)
	}
	defer gz.Close()

	br := bufio.NewReader(gz)
	if err := sniffTar(br); err != nil {
		return "", err
	}

	var extracted string
	tr := tar.NewReader(br)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: reading tar stream: %v", ErrUnexpectedLayout, err)
		}

		name, depth, err := normalizeEntry(hdr.Name)
		if err != nil {
			return "", err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			// Only the single wrapping directory is tolerated.
			if depth != 1 {
				return "", fmt.Errorf("%w: directory %q is nested too deep", ErrUnexpectedLayout, hdr.Name)
			}
			continue
		case tar.TypeReg:
			if hdr.Mode&0o111 == 0 {
				return "", fmt.Errorf("%w: %s is not executable", ErrUnexpectedLayout, name)
			}
			if extracted != "" {
				return "", fmt.Errorf("%w: more than one file in archive", ErrUnexpectedLayout)
			}
			path := filepath.Join(destDir, name)
			if err := writeFile(path, tr, hdr.FileInfo().Mode(), maxSize); err != nil {
				return "", err
			}
			extracted = path
		default:
			return "", fmt.Errorf("%w: %s has unsupported entry type %d", ErrUnexpectedLayout, name, hdr.Typeflag)
		}
	}

	if extracted == "" {
		return "", fmt.Errorf("%w: no executable in archive", ErrUnexpectedLayout)
	}
	return extracted, nil
}

// sniffTar peeks at the first header block for the ustar magic before
// extraction starts, so a mislabeled payload fails with a clear cause
// instead of a parse error mid-stream.
func sniffTar(br *bufio.Reader) error {
	header, err := br.Peek(512)
	if err != nil {
		return fmt.Errorf("%w: short tar header: %v", ErrUnexpectedLayout, err)
	}
	if string(header[257:262]) != "ustar" {
		return fmt.Errorf("%w: not a tar archive", ErrUnexpectedLayout)
	}
	return nil
}

// normalizeEntry strips the optional single top-level directory and
// rejects traversal or nesting beyond it. depth counts the path
// components before stripping.
func normalizeEntry(name string) (string, int, error) {
	clean := filepath.Clean(name)
	if clean == "." {
		return "", 0, fmt.Errorf("%w: empty entry name", ErrUnexpectedLayout)
	}
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", 0, fmt.Errorf("%w: entry %q escapes the archive root", ErrUnexpectedLayout, name)
	}

	parts := strings.Split(clean, string(filepath.Separator))
	switch len(parts) {
	case 1:
		return parts[0], 1, nil
	case 2:
		return parts[1], 2, nil
	default:
		return "", len(parts), fmt.Errorf("%w: entry %q is nested too deep", ErrUnexpectedLayout, name)
	}
}

func writeFile(path string, r io.Reader, mode os.FileMode, maxSize int64) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer out.Close()

	// Copy one byte past the cap so an entry exactly at the cap is
	// distinguishable from one exceeding it.
	n, err := io.Copy(out, io.LimitReader(r, maxSize+1))
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if n > maxSize {
		return fmt.Errorf("%w: entry exceeds %s", ErrUnexpectedLayout, bytesize.Format(maxSize))
	}
	return nil
}
