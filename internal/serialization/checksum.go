package serialization

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// ComputeChecksum returns the SHA-256 of everything read from r.
func ComputeChecksum(r io.Reader) ([ChecksumSize]byte, error) {
	var sum [ChecksumSize]byte
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return sum, fmt.Errorf("failed to compute checksum: %w", err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// verifyChecksum compares a stored checksum with the SHA-256 of data.
func verifyChecksum(stored [ChecksumSize]byte, data []byte) error {
	actual := sha256.Sum256(data)
	if actual != stored {
		return fmt.Errorf("%w: stored %s, computed %s",
			ErrChecksumMismatch, hex.EncodeToString(stored[:8]), hex.EncodeToString(actual[:8]))
	}
	return nil
}
