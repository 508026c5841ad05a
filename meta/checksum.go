package meta

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Checksum returns the hex-encoded SHA-256 digest of the payload. Segment
// descriptors store it so validation can detect silent file corruption.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChecksumMismatchError is returned when stored and computed digests differ.
type ChecksumMismatchError struct {
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// IsChecksumMismatch reports whether err is a checksum mismatch.
func IsChecksumMismatch(err error) bool {
	var cme *ChecksumMismatchError
	return errors.As(err, &cme)
}

// VerifyChecksum compares the payload against a stored digest. An empty
// stored digest passes: segments written before checksums were recorded stay
// readable.
func VerifyChecksum(data []byte, expected string) error {
	if expected == "" {
		return nil
	}
	if actual := Checksum(data); actual != expected {
		return &ChecksumMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}
