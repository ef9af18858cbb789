package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ikh/dicom-share-loader/internal/models"
)

// LoadingMessage is shown on the status banner while a share loads.
const LoadingMessage = "Loading shared images..."

// Config wires a Session to its collaborators. Recorder, Decode and Logger
// are optional.
type Config struct {
	API       ShareAPI
	Blobs     BlobStore
	Progress  Progress
	Viewport  Viewport
	Navigator Navigator
	Registry  FrameRegistry
	Banner    StatusBanner
	Recorder  Recorder
	Decode    DecodeFunc

	Filter models.Filter
	// TailConcurrency caps how many tail fetches run at once. Zero or less
	// means no cap.
	TailConcurrency int64

	Logger *slog.Logger
}

// Session loads one share. It is created per share viewing session and
// owns the set of units fetched so far.
type Session struct {
	ID string

	resolver  ShareResolver
	enum      *Enumerator
	pipeline  *Pipeline
	progress  Progress
	viewport  Viewport
	navigator Navigator
	registry  FrameRegistry
	banner    StatusBanner
	recorder  Recorder
	filter    models.Filter
	logger    *slog.Logger

	tails errgroup.Group
	sem   *semaphore.Weighted

	mu      sync.Mutex
	claimed map[string]struct{}
}

// NewSession validates cfg and returns a session with a fresh id.
func NewSession(cfg Config) (*Session, error) {
	var missing []error
	if cfg.API == nil {
		missing = append(missing, errors.New("share api"))
	}
	if cfg.Blobs == nil {
		missing = append(missing, errors.New("blob store"))
	}
	if cfg.Progress == nil {
		missing = append(missing, errors.New("progress tracker"))
	}
	if cfg.Viewport == nil {
		missing = append(missing, errors.New("viewport"))
	}
	if cfg.Navigator == nil {
		missing = append(missing, errors.New("navigator"))
	}
	if cfg.Registry == nil {
		missing = append(missing, errors.New("frame registry"))
	}
	if cfg.Banner == nil {
		missing = append(missing, errors.New("status banner"))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("session config is missing: %w", errors.Join(missing...))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	logger = logger.With("sessionId", id)

	s := &Session{
		ID:        id,
		resolver:  cfg.API,
		enum:      NewEnumerator(cfg.API, cfg.Progress, logger),
		pipeline:  NewPipeline(cfg.API, cfg.Blobs, cfg.Decode, logger),
		progress:  cfg.Progress,
		viewport:  cfg.Viewport,
		navigator: cfg.Navigator,
		registry:  cfg.Registry,
		banner:    cfg.Banner,
		recorder:  cfg.Recorder,
		filter:    cfg.Filter,
		logger:    logger,
		claimed:   make(map[string]struct{}),
	}
	if cfg.TailConcurrency > 0 {
		s.sem = semaphore.NewWeighted(cfg.TailConcurrency)
	}
	return s, nil
}

// Run resolves the share and loads it. It returns once the head of every
// series has been rendered and every tail fetch has been launched; use Wait
// to block until the tails settle.
//
// Only a failure to resolve the share is returned. Listing and per-instance
// failures are logged and counted on the progress tracker.
func (s *Session) Run(ctx context.Context) error {
	s.banner.SetMessage(LoadingMessage)

	desc, err := s.resolver.ResolveShare(ctx)
	if err != nil {
		s.logger.Error("resolving share failed", "error", err)
		s.banner.SetError(err.Error())
		return fmt.Errorf("resolving share: %w", err)
	}
	if err := validGranularity(desc.Granularity); err != nil {
		s.logger.Error("cannot load share", "error", err)
		s.banner.SetError(err.Error())
		return err
	}

	s.logger.Info("share resolved",
		"targetType", string(desc.Granularity), "targets", len(desc.Targets))

	series := 0
	for wl := range s.enum.Worklists(ctx, desc, s.filter) {
		s.loadSeries(ctx, wl)
		series++
	}

	s.logger.Info("all series heads loaded", "series", series)
	return nil
}

// Wait blocks until every launched tail fetch has settled.
func (s *Session) Wait() error {
	return s.tails.Wait()
}

// claim reports whether unit has not been fetched by this session yet and
// marks it as fetched.
func (s *Session) claim(unit models.LoadUnit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claimed[unit.Key()]; ok {
		return false
	}
	s.claimed[unit.Key()] = struct{}{}
	return true
}
