package canonical

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fractal-lba/bayesbandit/pkg/bandit"
)

var (
	// ErrInvalidSignature indicates signature verification failed
	ErrInvalidSignature = errors.New("invalid HMAC signature")
)

// Sign signs the snapshot's canonical bytes using HMAC-SHA256.
//
// Args:
//
//	snap: snapshot to sign
//	key: HMAC secret key (bytes)
//
// Returns:
//
//	Base64-encoded HMAC signature, or error if encoding fails
func Sign(snap *bandit.Snapshot, key []byte) (string, error) {
	payload, err := SnapshotBytes(snap)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a signature produced by Sign with the same key.
// Returns nil on success, ErrInvalidSignature on mismatch.
func Verify(snap *bandit.Snapshot, sigB64 string, key []byte) error {
	payload, err := SnapshotBytes(snap)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	expected := mac.Sum(nil)

	got, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	// Constant-time comparison
	if !hmac.Equal(expected, got) {
		return ErrInvalidSignature
	}
	return nil
}
