// Package checksum computes the content digests attached to published
// binaries so consumers can verify downloads.
package checksum

import (
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

// Algorithm is the digest algorithm the release policy fixes for all
// published artifacts.
const Algorithm = digest.SHA256

// Bytes returns the digest of an in-memory artifact.
func Bytes(b []byte) digest.Digest {
	return Algorithm.FromBytes(b)
}

// Reader digests everything remaining in r.
func Reader(r io.Reader) (digest.Digest, error) {
	d, err := Algorithm.FromReader(r)
	if err != nil {
		return "", fmt.Errorf("digesting stream: %w", err)
	}
	return d, nil
}

// File returns the digest of the file at path.
func File(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for digest: %w", path, err)
	}
	defer f.Close()

	return Reader(f)
}

// SumsLine renders the conventional "<hex>  <filename>" line carried
// in the .sha256 companion uploaded next to each binary. The format
// is what sha256sum -c accepts.
func SumsLine(d digest.Digest, filename string) string {
	return fmt.Sprintf("%s  %s\n", d.Encoded(), filename)
}
