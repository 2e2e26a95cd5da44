// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/bureau-foundation/spool/lib/clock"
	"github.com/bureau-foundation/spool/lib/consent"
)

// Default limits.
const (
	DefaultMaxItemSize       int64         = 512 * 1024
	DefaultMaxItemsPerBatch  int           = 500
	DefaultMaxBatchSize      int64         = 4 * 1024 * 1024
	DefaultOldBatchThreshold time.Duration = 18 * time.Hour
	DefaultMaxDiskSpace      int64         = 512 * 1024 * 1024
	DefaultMaxPendingSize    int64         = 16 * 1024 * 1024
)

// BatchSize selects how long a batch accepts writes before it is
// closed and handed to the uploader.
type BatchSize uint8

// The zero value is medium.
const (
	BatchSizeMedium BatchSize = iota
	BatchSizeSmall
	BatchSizeLarge
)

// Window returns the write window for the batch size.
func (b BatchSize) Window() time.Duration {
	switch b {
	case BatchSizeSmall:
		return time.Second
	case BatchSizeLarge:
		return 10 * time.Second
	default:
		return 5 * time.Second
	}
}

func (b BatchSize) String() string {
	switch b {
	case BatchSizeSmall:
		return "small"
	case BatchSizeMedium:
		return "medium"
	case BatchSizeLarge:
		return "large"
	default:
		return fmt.Sprintf("unknown(%d)", b)
	}
}

// ParseBatchSize converts "small", "medium" or "large" to a BatchSize.
func ParseBatchSize(name string) (BatchSize, error) {
	switch strings.ToLower(name) {
	case "small":
		return BatchSizeSmall, nil
	case "medium", "":
		return BatchSizeMedium, nil
	case "large":
		return BatchSizeLarge, nil
	default:
		return 0, fmt.Errorf("unknown batch size %q", name)
	}
}

// DropReason says why a batch left the store without being uploaded.
type DropReason uint8

const (
	// DropObsolete: the batch outlived OldBatchThreshold.
	DropObsolete DropReason = iota + 1
	// DropDiskSpace: the directory exceeded MaxDiskSpace.
	DropDiskSpace
	// DropPendingOverflow: the pending area exceeded MaxPendingSize.
	DropPendingOverflow
	// DropCorrupt: no record in the batch could be read.
	DropCorrupt
	// DropConsentRevoked: pending data was discarded after consent
	// was refused.
	DropConsentRevoked
	// DropRejected: the intake refused the batch permanently.
	DropRejected
	// DropWiped: ClearAllData or DropAll removed the batch.
	DropWiped
)

func (r DropReason) String() string {
	switch r {
	case DropObsolete:
		return "obsolete"
	case DropDiskSpace:
		return "disk_space"
	case DropPendingOverflow:
		return "pending_overflow"
	case DropCorrupt:
		return "corrupt"
	case DropConsentRevoked:
		return "consent_revoked"
	case DropRejected:
		return "rejected"
	case DropWiped:
		return "wiped"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// DropListener observes batches removed without a successful upload.
// Called with the store lock held; implementations must not call back
// into the store.
type DropListener func(handle BatchHandle, reason DropReason)

// Config configures a Store. Zero-valued limits take the defaults
// above.
type Config struct {
	// Root is the storage root shared by all features.
	Root string

	// Feature names the directories "<Root>/<Feature>-v1" and
	// "<Root>/<Feature>-pending-v1".
	Feature string

	MaxItemSize       int64
	MaxItemsPerBatch  int
	MaxBatchSize      int64
	OldBatchThreshold time.Duration
	BatchSize         BatchSize

	// MaxDiskSpace bounds the granted directory.
	MaxDiskSpace int64

	// MaxPendingSize bounds the pending directory.
	MaxPendingSize int64

	// Compression is applied to each event payload. Payloads that do
	// not shrink are stored raw.
	Compression CompressionTag

	// EncryptionIdentity is an age X25519 identity
	// ("AGE-SECRET-KEY-1..."). When set, payloads are encrypted at
	// rest to its recipient.
	EncryptionIdentity string

	// Consent is the state at open time. Later changes arrive through
	// Store.ConsentChanged.
	Consent consent.State

	// MetadataProvider, if set, is called when a batch is opened. The
	// returned bytes are stored in the batch sidecar's Feature field.
	MetadataProvider func() []byte

	OnDrop DropListener
	Clock  clock.Clock
	Logger *slog.Logger
}

// Bounds on what age adds to an encrypted payload: the X25519 header
// with room to spare, the stream nonce, and one tag per 64 KiB chunk.
const (
	ageHeaderBound = 256
	ageNonceSize   = 16
	ageTagSize     = 16
	ageChunkSize   = 64 * 1024
)

// MaxRecordSize returns the largest framed record an event of
// itemSize bytes can encode to. A batch must be at least this large
// for every accepted event to fit in an empty batch.
func MaxRecordSize(itemSize int64, encrypted bool) int64 {
	size := itemSize + 1 + binary.MaxVarintLen64 + recordOverhead
	if encrypted {
		chunks := size/ageChunkSize + 1
		size += ageHeaderBound + ageNonceSize + chunks*ageTagSize
	}
	return size
}

var featureNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func (c Config) withDefaults() Config {
	if c.MaxItemSize == 0 {
		c.MaxItemSize = DefaultMaxItemSize
	}
	if c.MaxItemsPerBatch == 0 {
		c.MaxItemsPerBatch = DefaultMaxItemsPerBatch
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.OldBatchThreshold == 0 {
		c.OldBatchThreshold = DefaultOldBatchThreshold
	}
	if c.MaxDiskSpace == 0 {
		c.MaxDiskSpace = DefaultMaxDiskSpace
	}
	if c.MaxPendingSize == 0 {
		c.MaxPendingSize = DefaultMaxPendingSize
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Root == "" {
		return errors.New("storage: Root is required")
	}
	if !featureNamePattern.MatchString(c.Feature) {
		return fmt.Errorf("storage: invalid feature name %q", c.Feature)
	}
	if c.MaxItemSize <= 0 {
		return fmt.Errorf("storage: MaxItemSize must be positive, got %d", c.MaxItemSize)
	}
	if c.MaxItemsPerBatch <= 0 {
		return fmt.Errorf("storage: MaxItemsPerBatch must be positive, got %d", c.MaxItemsPerBatch)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("storage: MaxBatchSize must be positive, got %d", c.MaxBatchSize)
	}
	if limit := MaxRecordSize(c.MaxItemSize, c.EncryptionIdentity != ""); limit > c.MaxBatchSize {
		return fmt.Errorf("storage: an event of MaxItemSize (%d) encodes to %d bytes, which exceeds MaxBatchSize (%d)",
			c.MaxItemSize, limit, c.MaxBatchSize)
	}
	if c.OldBatchThreshold <= 0 {
		return fmt.Errorf("storage: OldBatchThreshold must be positive, got %v", c.OldBatchThreshold)
	}
	if c.MaxDiskSpace < c.MaxBatchSize {
		return fmt.Errorf("storage: MaxDiskSpace (%d) is smaller than MaxBatchSize (%d)", c.MaxDiskSpace, c.MaxBatchSize)
	}
	if c.MaxPendingSize < c.MaxBatchSize {
		return fmt.Errorf("storage: MaxPendingSize (%d) is smaller than MaxBatchSize (%d)", c.MaxPendingSize, c.MaxBatchSize)
	}
	if c.Compression > CompressionZstd {
		return fmt.Errorf("storage: unsupported compression %s", c.Compression)
	}
	if c.EncryptionIdentity != "" {
		if _, err := parseIdentity(c.EncryptionIdentity); err != nil {
			return err
		}
	}
	return nil
}
