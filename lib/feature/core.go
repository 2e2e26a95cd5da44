// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/spool/lib/clock"
	"github.com/bureau-foundation/spool/lib/consent"
	"github.com/bureau-foundation/spool/lib/storage"
	"github.com/bureau-foundation/spool/lib/upload"
	"github.com/bureau-foundation/spool/lib/version"
)

// DefaultQueueSize is the persistence queue length per feature.
const DefaultQueueSize = 1024

// DefaultShutdownTimeout bounds the final upload pass in Feature.Stop.
const DefaultShutdownTimeout = 10 * time.Second

var (
	// ErrStopped is returned by operations on a stopped feature or
	// core.
	ErrStopped = errors.New("feature: stopped")

	// ErrDuplicateFeature is returned when a name is registered twice.
	ErrDuplicateFeature = errors.New("feature: already registered")

	// ErrQueueFull is returned by TryWrite when the persistence queue
	// has no room.
	ErrQueueFull = errors.New("feature: persistence queue full")
)

// CoreConfig configures a Core.
type CoreConfig struct {
	// Root is the storage root. Required.
	Root string

	// Consent is the initial tracking consent.
	Consent consent.State

	// Intake is the base request context. Site and ClientToken are
	// required. SDKVersion defaults to version.SDKVersion.
	Intake upload.RequestContext

	// Storage supplies limits, compression and encryption for every
	// feature. Root, Feature, Consent, Clock, Logger and the per
	// feature hooks are filled in by Register.
	Storage storage.Config

	Frequency       upload.Frequency
	UploadTimeout   time.Duration
	ShutdownTimeout time.Duration
	QueueSize       int

	// HTTPClient defaults to a client without a timeout; every upload
	// carries its own deadline.
	HTTPClient *http.Client

	Clock  clock.Clock
	Logger *slog.Logger
}

// Core is the process-wide state shared by features.
type Core struct {
	config     CoreConfig
	gate       *consent.Gate
	clock      clock.Clock
	logger     *slog.Logger
	httpClient *http.Client

	contextMu  sync.RWMutex
	intake     upload.RequestContext
	attributes map[string]string

	mu       sync.Mutex
	stopped  bool
	features map[string]*Feature
}

// New validates config and returns a Core with no features.
func New(config CoreConfig) (*Core, error) {
	if config.Root == "" {
		return nil, errors.New("feature: Root is required")
	}
	if config.Intake.Site == "" {
		return nil, errors.New("feature: Intake.Site is required")
	}
	if config.Intake.ClientToken == "" {
		return nil, errors.New("feature: Intake.ClientToken is required")
	}
	if config.Intake.SDKVersion == "" {
		config.Intake.SDKVersion = version.SDKVersion()
	}
	if config.UploadTimeout == 0 {
		config.UploadTimeout = upload.DefaultTimeout
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	return &Core{
		config:     config,
		gate:       consent.NewGate(config.Consent),
		clock:      config.Clock,
		logger:     config.Logger,
		httpClient: config.HTTPClient,
		intake:     config.Intake,
		attributes: maps.Clone(config.Intake.Attributes),
		features:   make(map[string]*Feature),
	}, nil
}

// Register creates and starts the feature described by config.
func (c *Core) Register(config Config) (*Feature, error) {
	if config.Name == "" {
		return nil, errors.New("feature: Name is required")
	}
	if config.NewFactory == nil {
		return nil, fmt.Errorf("feature %s: NewFactory is required", config.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, ErrStopped
	}
	if _, exists := c.features[config.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateFeature, config.Name)
	}

	feature, err := newFeature(c, config)
	if err != nil {
		return nil, err
	}
	c.features[config.Name] = feature
	c.logger.Info("feature registered", "feature", config.Name)
	return feature, nil
}

// Feature returns the registered feature called name, or nil.
func (c *Core) Feature(name string) *Feature {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.features[name]
}

// Features returns the registered feature names in sorted order.
func (c *Core) Features() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.features))
	for name := range c.features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Consent returns the current tracking consent.
func (c *Core) Consent() consent.State {
	return c.gate.Get()
}

// SetConsent changes the tracking consent of every feature. Each
// feature applies the change after the writes it queued before the
// call, and SetConsent returns once all of them have.
func (c *Core) SetConsent(state consent.State) {
	previous := c.gate.Get()
	c.gate.Set(state)
	if previous != state {
		c.logger.Info("tracking consent changed", "previous", previous.String(), "current", state.String())
	}
}

// SetAttribute adds a tag sent with every later upload. An empty
// value removes it.
func (c *Core) SetAttribute(key, value string) {
	c.contextMu.Lock()
	defer c.contextMu.Unlock()
	if value == "" {
		delete(c.attributes, key)
		return
	}
	if c.attributes == nil {
		c.attributes = make(map[string]string)
	}
	c.attributes[key] = value
}

// RequestContext returns a snapshot of the request context.
func (c *Core) RequestContext() upload.RequestContext {
	c.contextMu.RLock()
	defer c.contextMu.RUnlock()
	snapshot := c.intake
	snapshot.Attributes = maps.Clone(c.attributes)
	return snapshot
}

// Stop stops every feature, uploading what it can within each
// feature's shutdown timeout. Stop is idempotent.
func (c *Core) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	features := make([]*Feature, 0, len(c.features))
	for _, feature := range c.features {
		features = append(features, feature)
	}
	c.mu.Unlock()

	var errs []error
	for _, feature := range features {
		if err := feature.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", feature.Name(), err))
		}
	}
	return errors.Join(errs...)
}
