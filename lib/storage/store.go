// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/spool/lib/clock"
	"github.com/bureau-foundation/spool/lib/consent"
)

// WriteStatus reports where an event went.
type WriteStatus uint8

const (
	// StatusDropped: the event was not persisted. Write also returns
	// an error saying why.
	StatusDropped WriteStatus = iota
	// StatusWritten: the event is in a granted batch.
	StatusWritten
	// StatusPending: the event is held until consent is decided.
	StatusPending
)

func (s WriteStatus) String() string {
	switch s {
	case StatusDropped:
		return "dropped"
	case StatusWritten:
		return "written"
	case StatusPending:
		return "pending"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Decision tells Confirm what to do with a checked-out batch.
type Decision uint8

const (
	// KeepBatch releases the batch so the next NextBatch returns it
	// again.
	KeepBatch Decision = iota
	// DeleteBatch removes a batch that was delivered.
	DeleteBatch
	// RejectBatch removes a batch the intake refused permanently and
	// reports it to the drop listener.
	RejectBatch
)

// area is one of the two directories a store manages.
type area struct {
	directory      string
	budget         int64
	overflowReason DropReason
	lock           *directoryLock

	// current is the open batch, nil between batches.
	current *openBatch

	// lastName is the largest batch name ever allocated here, so new
	// names stay strictly increasing when the clock does not move.
	lastName int64

	// used is the number of batch bytes on disk. Deletions outside
	// enforceBudget leave it high, which only costs an extra rescan.
	used int64
}

type openBatch struct {
	name      string
	path      string
	file      *os.File
	created   time.Time
	lastWrite time.Time
	items     int
	size      int64
	consent   consent.State
	feature   []byte
}

// Store persists events for one feature. All methods are safe for
// concurrent use; appends, rotation, selection and consent migration
// are serialized by one mutex.
type Store struct {
	config Config
	codec  *payloadCodec
	clock  clock.Clock
	logger *slog.Logger

	mu         sync.Mutex
	closed     bool
	consent    consent.State
	granted    *area
	pending    *area
	checkedOut map[string]bool

	// undecryptable holds batches encrypted to another identity.
	// They stay on disk until they age out.
	undecryptable map[string]bool
}

// GrantedDirectory returns "<root>/<feature>-v1".
func GrantedDirectory(root, feature string) string {
	return filepath.Join(root, feature+"-v1")
}

// PendingDirectory returns "<root>/<feature>-pending-v1".
func PendingDirectory(root, feature string) string {
	return filepath.Join(root, feature+"-pending-v1")
}

// Open creates the feature directories if needed, locks them, and
// applies the configured consent to any pending batches left by a
// previous process: they are moved to the granted directory when
// consent is granted and deleted when it is not.
func Open(config Config) (*Store, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	payloads, err := newPayloadCodec(config.Compression, config.EncryptionIdentity)
	if err != nil {
		return nil, err
	}

	store := &Store{
		config:        config,
		codec:         payloads,
		clock:         config.Clock,
		logger:        config.Logger.With("feature", config.Feature),
		consent:       config.Consent,
		checkedOut:    make(map[string]bool),
		undecryptable: make(map[string]bool),
		granted: &area{
			directory:      GrantedDirectory(config.Root, config.Feature),
			budget:         config.MaxDiskSpace,
			overflowReason: DropDiskSpace,
		},
		pending: &area{
			directory:      PendingDirectory(config.Root, config.Feature),
			budget:         config.MaxPendingSize,
			overflowReason: DropPendingOverflow,
		},
	}

	for _, a := range []*area{store.granted, store.pending} {
		if err := os.MkdirAll(a.directory, 0700); err != nil {
			store.releaseLocks()
			return nil, fmt.Errorf("%w: creating %s: %v", ErrStorageIO, a.directory, err)
		}
		lock, err := acquireLock(a.directory)
		if err != nil {
			store.releaseLocks()
			return nil, err
		}
		a.lock = lock
		handles, err := listBatches(a.directory)
		if err != nil {
			store.releaseLocks()
			return nil, err
		}
		if len(handles) > 0 {
			a.lastName, _ = parseBatchName(handles[len(handles)-1].Name)
		}
		for _, handle := range handles {
			a.used += handle.Size
		}
	}

	switch store.consent {
	case consent.Granted:
		store.migratePending()
	case consent.NotGranted:
		store.discardPending()
	}
	return store, nil
}

func (s *Store) releaseLocks() {
	for _, a := range []*area{s.granted, s.pending} {
		if a.lock != nil {
			a.lock.release()
			a.lock = nil
		}
	}
}

// Write appends event to the open batch of the area selected by the
// current consent, rotating the batch first when the event would not
// fit or the batch's write window has passed.
func (s *Store) Write(event []byte) (WriteStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return StatusDropped, ErrClosed
	}
	if int64(len(event)) > s.config.MaxItemSize {
		s.logger.Warn("dropping oversized event",
			"size", len(event), "max_item_size", s.config.MaxItemSize)
		return StatusDropped, fmt.Errorf("%w: %d bytes, limit %d", ErrItemTooLarge, len(event), s.config.MaxItemSize)
	}

	var target *area
	var status WriteStatus
	switch s.consent {
	case consent.Granted:
		target, status = s.granted, StatusWritten
	case consent.Pending:
		target, status = s.pending, StatusPending
	default:
		return StatusDropped, ErrConsentNotGranted
	}

	kind, payload, err := s.codec.encode(event)
	if err != nil {
		return StatusDropped, fmt.Errorf("encoding event: %w", err)
	}
	framed := appendRecord(nil, kind, payload)
	if int64(len(framed)) > s.config.MaxBatchSize {
		s.logger.Warn("dropping event larger than a batch",
			"encoded_size", len(framed), "max_batch_size", s.config.MaxBatchSize)
		return StatusDropped, fmt.Errorf("%w: encoded record is %d bytes, batch limit %d",
			ErrItemTooLarge, len(framed), s.config.MaxBatchSize)
	}

	now := s.clock.Now()
	size := int64(len(framed))
	if target.current != nil && !s.accepts(target.current, size, now) {
		s.closeBatch(target)
	}
	if target.used+size > target.budget {
		s.enforceBudget(target, size)
	}
	if target.current == nil {
		if err := s.openBatch(target, now); err != nil {
			return StatusDropped, err
		}
	}

	current := target.current
	if _, err := current.file.Write(framed); err != nil {
		s.logger.Error("appending to batch failed", "batch", current.name, "error", err)
		// A partial record may be on disk. Closing the batch confines
		// the damage to its tail.
		s.closeBatch(target)
		return StatusDropped, fmt.Errorf("%w: appending to batch %s: %v", ErrStorageIO, current.name, err)
	}
	current.items++
	current.size += size
	target.used += size
	current.lastWrite = now

	if current.items >= s.config.MaxItemsPerBatch || current.size >= s.config.MaxBatchSize {
		s.closeBatch(target)
	}
	return status, nil
}

// accepts reports whether a record of size bytes can be appended to
// batch at now.
func (s *Store) accepts(batch *openBatch, size int64, now time.Time) bool {
	if now.Sub(batch.created) >= s.config.BatchSize.Window() {
		return false
	}
	if batch.items+1 > s.config.MaxItemsPerBatch {
		return false
	}
	return batch.size+size <= s.config.MaxBatchSize
}

func (s *Store) openBatch(a *area, now time.Time) error {
	milliseconds := now.UnixMilli()
	if milliseconds <= a.lastName {
		milliseconds = a.lastName + 1
	}
	name := batchName(milliseconds)
	path := filepath.Join(a.directory, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("%w: creating batch %s: %v", ErrStorageIO, name, err)
	}
	a.lastName = milliseconds

	var feature []byte
	if s.config.MetadataProvider != nil {
		feature = s.config.MetadataProvider()
	}
	a.current = &openBatch{
		name:      name,
		path:      path,
		file:      file,
		created:   now,
		lastWrite: now,
		consent:   s.consent,
		feature:   feature,
	}
	return nil
}

// closeBatch syncs and closes the open batch of a and writes its
// sidecar. Failures are logged: the records already written stay
// readable without a sidecar.
func (s *Store) closeBatch(a *area) {
	batch := a.current
	if batch == nil {
		return
	}
	a.current = nil

	if err := batch.file.Sync(); err != nil {
		s.logger.Warn("syncing batch failed", "batch", batch.name, "error", err)
	}
	if err := batch.file.Close(); err != nil {
		s.logger.Warn("closing batch failed", "batch", batch.name, "error", err)
	}
	if batch.items == 0 {
		if err := removeBatch(batch.path); err != nil {
			s.logger.Warn("removing empty batch failed", "batch", batch.name, "error", err)
		}
		return
	}

	metadata := BatchMetadata{
		Created:   batch.created,
		LastWrite: batch.lastWrite,
		Items:     batch.items,
		Bytes:     batch.size,
		Consent:   batch.consent,
		Feature:   batch.feature,
	}
	if err := writeSidecar(batch.path, metadata); err != nil {
		s.logger.Warn("writing batch metadata failed", "batch", batch.name, "error", err)
	}
	s.logger.Debug("batch closed", "batch", batch.name, "items", batch.items, "bytes", batch.size)
}

// expireCurrent closes the open batch of a once its write window has
// passed, so the reader can take it.
func (s *Store) expireCurrent(a *area, now time.Time) {
	if a.current != nil && now.Sub(a.current.created) >= s.config.BatchSize.Window() {
		s.closeBatch(a)
	}
}

// enforceBudget deletes the oldest closed batches of a until incoming
// more bytes fit in its budget. The open batch is never evicted; with
// the budget at least one batch large, evicting every closed batch
// always makes room.
func (s *Store) enforceBudget(a *area, incoming int64) {
	handles, err := listBatches(a.directory)
	if err != nil {
		s.logger.Warn("checking disk budget failed", "directory", a.directory, "error", err)
		return
	}
	var total int64
	for _, handle := range handles {
		total += handle.Size
	}
	defer func() { a.used = total }()
	for _, handle := range handles {
		if total+incoming <= a.budget {
			return
		}
		if s.checkedOut[handle.Path] {
			continue
		}
		if a.current != nil && handle.Path == a.current.path {
			continue
		}
		if err := removeBatch(handle.Path); err != nil {
			s.logger.Warn("evicting batch failed", "batch", handle.Name, "error", err)
			continue
		}
		total -= handle.Size
		s.drop(handle, a.overflowReason)
	}
}

// closedBatches returns the closed batches of a, oldest first, after
// deleting those older than OldBatchThreshold.
func (s *Store) closedBatches(a *area, now time.Time) ([]BatchHandle, error) {
	s.expireCurrent(a, now)

	handles, err := listBatches(a.directory)
	if err != nil {
		return nil, err
	}
	closed := handles[:0]
	for _, handle := range handles {
		if a.current != nil && handle.Path == a.current.path {
			continue
		}
		if now.Sub(handle.Created) > s.config.OldBatchThreshold && !s.checkedOut[handle.Path] {
			if err := removeBatch(handle.Path); err != nil {
				s.logger.Warn("deleting obsolete batch failed", "batch", handle.Name, "error", err)
				continue
			}
			s.drop(handle, DropObsolete)
			continue
		}
		closed = append(closed, handle)
	}
	return closed, nil
}

func (s *Store) drop(handle BatchHandle, reason DropReason) {
	delete(s.undecryptable, handle.Path)
	s.logger.Warn("batch dropped", "batch", handle.Name, "reason", reason.String(), "bytes", handle.Size)
	if s.config.OnDrop != nil {
		s.config.OnDrop(handle, reason)
	}
}

// Flush closes the open batches immediately, making their events
// eligible for upload.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closeBatch(s.granted)
	s.closeBatch(s.pending)
	return nil
}

// ListClosedBatches returns the granted batches that are ready for
// upload, oldest first. Batches older than OldBatchThreshold are
// deleted and reported to the drop listener instead of being
// returned.
func (s *Store) ListClosedBatches() ([]BatchHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.closedBatches(s.granted, s.clock.Now())
}

// ReadEvents returns the events of a batch in write order. A corrupt
// or truncated tail is dropped with a warning; a batch with no
// readable event returns an error wrapping ErrCorruptBatch, and one
// encrypted to another identity an error wrapping ErrNoDecryptionKey.
func (s *Store) ReadEvents(handle BatchHandle) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.readEvents(handle)
}

func (s *Store) readEvents(handle BatchHandle) ([]Event, error) {
	data, err := os.ReadFile(handle.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading batch %s: %v", ErrStorageIO, handle.Name, err)
	}

	records, _, tailErr := parseRecords(data)
	events := make([]Event, 0, len(records))
	for index, framed := range records {
		if framed.kind != recordTypeEvent && framed.kind != recordTypeEncryptedEvent {
			continue
		}
		decoded, err := s.codec.decode(framed.kind, framed.payload)
		if errors.Is(err, ErrNoDecryptionKey) {
			return nil, fmt.Errorf("batch %s: record %d: %w", handle.Name, index, err)
		}
		if err != nil {
			tailErr = fmt.Errorf("%w: record %d: %v", ErrCorruptBatch, index, err)
			break
		}
		events = append(events, Event{Data: decoded})
	}

	if tailErr != nil {
		if len(events) == 0 {
			return nil, fmt.Errorf("batch %s: %w", handle.Name, tailErr)
		}
		s.logger.Warn("ignoring unreadable batch tail",
			"batch", handle.Name, "events", len(events), "error", tailErr)
	}
	return events, nil
}

// ReadMetadata returns the feature bytes stored in a batch's sidecar,
// or nil when it has none.
func (s *Store) ReadMetadata(handle BatchHandle) ([]byte, error) {
	metadata, err := readSidecar(handle.Path)
	if err != nil || metadata == nil {
		return nil, err
	}
	return metadata.Feature, nil
}

// WriteMetadata replaces the feature bytes of a batch's sidecar. For
// the open batch the bytes are kept and written when it closes.
func (s *Store) WriteMetadata(handle BatchHandle, feature []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, a := range []*area{s.granted, s.pending} {
		if a.current != nil && a.current.path == handle.Path {
			a.current.feature = feature
			return nil
		}
	}

	metadata, err := readSidecar(handle.Path)
	if err != nil && !errors.Is(err, ErrCorruptBatch) {
		return err
	}
	if metadata == nil {
		if _, err := os.Stat(handle.Path); err != nil {
			return fmt.Errorf("%w: batch %s: %v", ErrStorageIO, handle.Name, err)
		}
		metadata = &BatchMetadata{Created: handle.Created, Bytes: handle.Size}
	}
	metadata.Feature = feature
	return writeSidecar(handle.Path, *metadata)
}

// Delete removes a batch and its sidecar.
func (s *Store) Delete(handle BatchHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, a := range []*area{s.granted, s.pending} {
		if a.current != nil && a.current.path == handle.Path {
			s.closeBatch(a)
		}
	}
	delete(s.checkedOut, handle.Path)
	delete(s.undecryptable, handle.Path)
	return removeBatch(handle.Path)
}

// NextBatch checks out the oldest closed batch that is not already
// checked out and returns its events and metadata. It returns nil
// when there is nothing to upload. Batches with no readable event are
// deleted and skipped. Batches encrypted to another identity are
// skipped and kept. The caller must pass the batch to Confirm.
func (s *Store) NextBatch() (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	handles, err := s.closedBatches(s.granted, s.clock.Now())
	if err != nil {
		return nil, err
	}
	for _, handle := range handles {
		if s.checkedOut[handle.Path] {
			continue
		}
		if s.undecryptable[handle.Path] {
			continue
		}
		events, err := s.readEvents(handle)
		if errors.Is(err, ErrNoDecryptionKey) {
			s.undecryptable[handle.Path] = true
			s.logger.Warn("keeping batch encrypted to another identity", "batch", handle.Name, "error", err)
			continue
		}
		if errors.Is(err, ErrCorruptBatch) {
			if removeErr := removeBatch(handle.Path); removeErr != nil {
				return nil, removeErr
			}
			s.drop(handle, DropCorrupt)
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			if err := removeBatch(handle.Path); err != nil {
				return nil, err
			}
			continue
		}

		info, err := readSidecar(handle.Path)
		if err != nil {
			s.logger.Warn("ignoring unreadable batch metadata", "batch", handle.Name, "error", err)
		}
		batch := &Batch{Handle: handle, Events: events, Info: info}
		if info != nil {
			batch.Metadata = info.Feature
		}
		s.checkedOut[handle.Path] = true
		return batch, nil
	}
	return nil, nil
}

// Confirm ends the checkout of a batch returned by NextBatch.
func (s *Store) Confirm(handle BatchHandle, decision Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkedOut[handle.Path] {
		return fmt.Errorf("%w: %s", ErrUnknownBatch, handle.Name)
	}
	delete(s.checkedOut, handle.Path)

	switch decision {
	case KeepBatch:
		return nil
	case DeleteBatch:
		return removeBatch(handle.Path)
	case RejectBatch:
		if err := removeBatch(handle.Path); err != nil {
			return err
		}
		s.drop(handle, DropRejected)
		return nil
	default:
		return fmt.Errorf("storage: unknown decision %d", decision)
	}
}

// ConsentChanged implements consent.Listener. It runs under the store
// lock, so a write that follows the transition always lands after
// any migrated batch. The transition starts from the store's own
// state; previous is only logged when it disagrees.
func (s *Store) ConsentChanged(previous, current consent.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if previous != s.consent {
		s.logger.Debug("consent transition from a stale state",
			"reported", previous.String(), "store", s.consent.String())
		previous = s.consent
	}
	if previous == current {
		return
	}
	s.consent = current

	switch {
	case previous == consent.Pending && current == consent.Granted:
		s.migratePending()
	case previous == consent.Pending && current == consent.NotGranted:
		s.discardPending()
	case previous == consent.Granted:
		s.closeBatch(s.granted)
	}
}

// migratePending moves every pending batch, oldest first, into the
// granted directory. Names are kept unless that would sort before a
// granted batch.
func (s *Store) migratePending() {
	s.closeBatch(s.pending)

	handles, err := listBatches(s.pending.directory)
	if err != nil {
		s.logger.Error("listing pending batches failed", "error", err)
		return
	}
	for _, handle := range handles {
		milliseconds, _ := parseBatchName(handle.Name)
		if milliseconds <= s.granted.lastName {
			milliseconds = s.granted.lastName + 1
		}
		target := filepath.Join(s.granted.directory, batchName(milliseconds))
		if err := os.Rename(handle.Path, target); err != nil {
			s.logger.Error("moving pending batch failed", "batch", handle.Name, "error", err)
			continue
		}
		s.granted.lastName = milliseconds
		s.granted.used += handle.Size
		s.pending.used -= handle.Size
		if err := os.Rename(sidecarPath(handle.Path), sidecarPath(target)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("moving pending batch metadata failed", "batch", handle.Name, "error", err)
		}
	}
	if len(handles) > 0 {
		syncDirectory(s.pending.directory)
		syncDirectory(s.granted.directory)
		s.logger.Info("pending batches granted", "batches", len(handles))
	}
}

// discardPending deletes every pending batch.
func (s *Store) discardPending() {
	s.closeBatch(s.pending)

	handles, err := listBatches(s.pending.directory)
	if err != nil {
		s.logger.Error("listing pending batches failed", "error", err)
		return
	}
	for _, handle := range handles {
		if err := removeBatch(handle.Path); err != nil {
			s.logger.Error("deleting pending batch failed", "batch", handle.Name, "error", err)
			continue
		}
		s.pending.used -= handle.Size
		s.drop(handle, DropConsentRevoked)
	}
	if len(handles) > 0 {
		syncDirectory(s.pending.directory)
	}
}

// DropAll deletes every batch in both directories, open ones
// included.
func (s *Store) DropAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var firstErr error
	for _, a := range []*area{s.granted, s.pending} {
		s.closeBatch(a)
		handles, err := listBatches(a.directory)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, handle := range handles {
			if err := removeBatch(handle.Path); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			a.used -= handle.Size
			s.drop(handle, DropWiped)
		}
		syncDirectory(a.directory)
	}
	return firstErr
}

// Close closes the open batches and releases the directory locks.
// Calling Close more than once is harmless.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.closeBatch(s.granted)
	s.closeBatch(s.pending)
	s.releaseLocks()
	return nil
}

// Consent returns the consent state the store is following.
func (s *Store) Consent() consent.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consent
}
