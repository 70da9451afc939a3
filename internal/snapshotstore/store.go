// Package snapshotstore persists bandit snapshots by bandit name.
//
// Every backend stores the same JSON envelope: the snapshot plus its
// canonical digest and, when a key is configured, an HMAC signature.
package snapshotstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fractal-lba/bayesbandit/internal/config"
	"github.com/fractal-lba/bayesbandit/pkg/bandit"
	"github.com/fractal-lba/bayesbandit/pkg/canonical"
)

var (
	// ErrNotFound is returned by Load when no snapshot exists for a name
	ErrNotFound = errors.New("snapshot not found")

	// ErrDigestMismatch indicates the stored snapshot does not match its digest
	ErrDigestMismatch = errors.New("snapshot digest mismatch")

	// ErrUnsigned indicates a signature was required but the envelope has none
	ErrUnsigned = errors.New("snapshot is not signed")

	// ErrInvalidName rejects names that cannot be used as storage keys
	ErrInvalidName = errors.New("invalid bandit name")
)

// Store persists the latest snapshot of each named bandit
type Store interface {
	// Load returns the most recent snapshot saved under name, or ErrNotFound.
	Load(ctx context.Context, name string) (*bandit.Snapshot, error)

	// Save stores snap as the latest snapshot for name.
	Save(ctx context.Context, name string, snap *bandit.Snapshot) error

	// Close releases resources
	Close() error
}

// Envelope is the stored form of a snapshot
type Envelope struct {
	Name      string           `json:"name"`
	SavedAt   time.Time        `json:"saved_at"`
	Digest    string           `json:"digest"`
	Signature string           `json:"signature,omitempty"`
	Snapshot  *bandit.Snapshot `json:"snapshot"`
}

type wireEnvelope struct {
	Name      string          `json:"name"`
	SavedAt   time.Time       `json:"saved_at"`
	Digest    string          `json:"digest"`
	Signature string          `json:"signature,omitempty"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

// Seal wraps snap in an envelope, signing it when key is non-empty
func Seal(name string, snap *bandit.Snapshot, key []byte) (*Envelope, error) {
	digest, err := canonical.Digest(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to digest snapshot: %w", err)
	}

	env := &Envelope{
		Name:     name,
		SavedAt:  time.Now().UTC(),
		Digest:   digest,
		Snapshot: snap,
	}
	if len(key) > 0 {
		sig, err := canonical.Sign(snap, key)
		if err != nil {
			return nil, fmt.Errorf("failed to sign snapshot: %w", err)
		}
		env.Signature = sig
	}
	return env, nil
}

// Verify checks the digest, and the signature when key is non-empty
func (e *Envelope) Verify(key []byte) error {
	digest, err := canonical.Digest(e.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to digest snapshot: %w", err)
	}
	if digest != e.Digest {
		return fmt.Errorf("%w: %s: stored %s, computed %s", ErrDigestMismatch, e.Name, e.Digest, digest)
	}

	if len(key) == 0 {
		return nil
	}
	if e.Signature == "" {
		return fmt.Errorf("%w: %s", ErrUnsigned, e.Name)
	}
	if err := canonical.Verify(e.Snapshot, e.Signature, key); err != nil {
		return fmt.Errorf("snapshot %s: %w", e.Name, err)
	}
	return nil
}

// Marshal encodes the envelope as JSON
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses an envelope. The snapshot goes through
// bandit.DecodeSnapshot, so newer snapshot versions are rejected. The
// envelope is not verified.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if len(w.Snapshot) == 0 || string(w.Snapshot) == "null" {
		return nil, fmt.Errorf("envelope %s has no snapshot", w.Name)
	}

	snap, err := bandit.DecodeSnapshot(w.Snapshot)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Name:      w.Name,
		SavedAt:   w.SavedAt,
		Digest:    w.Digest,
		Signature: w.Signature,
		Snapshot:  snap,
	}, nil
}

// codec seals and opens envelopes with an optional HMAC key
type codec struct {
	key []byte
}

func (c codec) encode(name string, snap *bandit.Snapshot) ([]byte, error) {
	_, data, err := c.seal(name, snap)
	return data, err
}

func (c codec) seal(name string, snap *bandit.Snapshot) (*Envelope, []byte, error) {
	if err := validName(name); err != nil {
		return nil, nil, err
	}
	env, err := Seal(name, snap, c.key)
	if err != nil {
		return nil, nil, err
	}
	data, err := env.Marshal()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return env, data, nil
}

func (c codec) decode(data []byte) (*bandit.Snapshot, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if err := env.Verify(c.key); err != nil {
		return nil, err
	}
	return env.Snapshot, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// New opens the backend selected by cfg.Backend
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	key := []byte(cfg.HMACKey)

	switch cfg.Backend {
	case "file":
		return NewFileStore(cfg.Dir, key)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, key)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresConn, key)
	default:
		return nil, fmt.Errorf("unknown snapshot store backend %q", cfg.Backend)
	}
}
