// Package watcher waits for specific instances to finish loading. Each
// watched SOP Instance UID is polled until it shows up or its timer runs
// out.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ikh/dicom-share-loader/internal/config"
	"ikh/dicom-share-loader/internal/models"
)

// Finder looks an instance up by SOP Instance UID. The concrete
// implementation is registry.Registry.
type Finder interface {
	Find(sopUID string) (models.DecodedInstance, bool)
}

type target struct {
	onReady func(models.DecodedInstance)
	timer   *time.Timer
}

type Watcher struct {
	Timeout      time.Duration
	PollInterval time.Duration

	finder  Finder
	logger  *slog.Logger
	mu      sync.Mutex
	targets map[string]*target
	found   []string
	expired []string
	settled chan struct{}
	done    chan struct{}
	stop    sync.Once
}

func NewWatcher(cfg *config.Config, finder Finder, logger *slog.Logger) (*Watcher, error) {
	if finder == nil {
		return nil, errors.New("watcher needs a finder")
	}
	if cfg.Timeout <= 0 || cfg.PollInterval <= 0 {
		return nil, errors.New("watcher timeout and poll interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	settled := make(chan struct{})
	close(settled)
	return &Watcher{
		Timeout:      cfg.WatchTimeout(),
		PollInterval: cfg.WatchPollInterval(),
		finder:       finder,
		logger:       logger.With("component", "watcher"),
		targets:      make(map[string]*target),
		settled:      settled,
		done:         make(chan struct{}),
	}, nil
}

// Watch calls onReady once, from the polling goroutine, when sopUID can be
// found. The target is dropped when it is not found within Timeout.
// Watching a uid that is already pending does nothing.
func (w *Watcher) Watch(sopUID string, onReady func(models.DecodedInstance)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.targets[sopUID]; ok {
		return
	}
	if len(w.targets) == 0 {
		w.settled = make(chan struct{})
	}
	w.targets[sopUID] = &target{
		onReady: onReady,
		timer: time.AfterFunc(w.Timeout, func() {
			w.expire(sopUID)
		}),
	}
	w.logger.Debug("watching instance", "sopUid", sopUID, "timeout", w.Timeout)
}

// Start polls every PollInterval until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-ticker.C:
				w.CheckTargets()
			}
		}
	}()
}

// CheckTargets looks up every pending target once.
func (w *Watcher) CheckTargets() {
	type hit struct {
		inst    models.DecodedInstance
		onReady func(models.DecodedInstance)
	}

	w.mu.Lock()
	var hits []hit
	for sopUID, t := range w.targets {
		inst, ok := w.finder.Find(sopUID)
		if !ok {
			continue
		}
		t.timer.Stop()
		delete(w.targets, sopUID)
		w.found = append(w.found, sopUID)
		hits = append(hits, hit{inst: inst, onReady: t.onReady})
	}
	w.settleLocked()
	w.mu.Unlock()

	for _, h := range hits {
		w.logger.Info("instance ready", "seriesUid", h.inst.SeriesUID, "sopUid", h.inst.SOPUID)
		if h.onReady != nil {
			h.onReady(h.inst)
		}
	}
}

func (w *Watcher) expire(sopUID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.targets[sopUID]; !ok {
		return
	}
	delete(w.targets, sopUID)
	w.expired = append(w.expired, sopUID)
	w.settleLocked()
	w.logger.Warn("gave up waiting for instance", "sopUid", sopUID, "timeout", w.Timeout)
}

// Stop ends polling and expires every target still pending. Call it once
// nothing can register a watched instance any more.
func (w *Watcher) Stop() {
	w.stop.Do(func() { close(w.done) })

	w.mu.Lock()
	defer w.mu.Unlock()
	for sopUID, t := range w.targets {
		t.timer.Stop()
		delete(w.targets, sopUID)
		w.expired = append(w.expired, sopUID)
		w.logger.Warn("instance never loaded", "sopUid", sopUID)
	}
	w.settleLocked()
}

func (w *Watcher) settleLocked() {
	if len(w.targets) != 0 {
		return
	}
	select {
	case <-w.settled:
	default:
		close(w.settled)
	}
}

// Wait blocks until no target is pending or ctx is done.
func (w *Watcher) Wait(ctx context.Context) error {
	w.mu.Lock()
	settled := w.settled
	w.mu.Unlock()

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result is the outcome of every target so far, sorted by uid.
type Result struct {
	Found   []string `json:"found,omitempty"`
	Expired []string `json:"expired,omitempty"`
	Pending []string `json:"pending,omitempty"`
}

func (w *Watcher) Result() Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := Result{
		Found:   append([]string(nil), w.found...),
		Expired: append([]string(nil), w.expired...),
	}
	for uid := range w.targets {
		r.Pending = append(r.Pending, uid)
	}
	sort.Strings(r.Found)
	sort.Strings(r.Expired)
	sort.Strings(r.Pending)
	return r
}
