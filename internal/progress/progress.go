// Package progress counts settled instance loads per series and the number
// of fetches still in flight.
package progress

import (
	"log/slog"
	"sort"
	"sync"
)

// Series is a point in time view of one series.
type Series struct {
	SeriesUID string `json:"series_uid"`
	Total     int    `json:"total"`
	Loaded    int    `json:"loaded"`
	Failed    int    `json:"failed"`
}

// Done reports whether every expected unit has settled.
func (s Series) Done() bool {
	return s.Loaded >= s.Total
}

// Tracker is safe for concurrent use. The zero value is not usable; call New.
type Tracker struct {
	mu       sync.Mutex
	series   map[string]*Series
	order    []string
	inFlight int
	idle     chan struct{}
	onUpdate func(Series)
	logger   *slog.Logger
}

// New returns an empty tracker. onUpdate, when not nil, is called after every
// change with the new state of the affected series. It runs outside the
// tracker's lock.
func New(logger *slog.Logger, onUpdate func(Series)) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Tracker{
		series:   make(map[string]*Series),
		idle:     idle,
		onUpdate: onUpdate,
		logger:   logger,
	}
}

// SetTotal records how many units a series expects. Calling it again for the
// same series keeps the counts already recorded and never lowers the total
// below them.
func (t *Tracker) SetTotal(seriesUID string, n int) {
	t.mu.Lock()
	s, ok := t.series[seriesUID]
	if !ok {
		s = &Series{SeriesUID: seriesUID}
		t.series[seriesUID] = s
		t.order = append(t.order, seriesUID)
	}
	if n < s.Loaded {
		t.logger.Warn("total below loaded count, keeping loaded count",
			"seriesUid", seriesUID, "total", n, "loaded", s.Loaded)
		n = s.Loaded
	}
	s.Total = n
	snap := *s
	t.mu.Unlock()

	t.notify(snap)
}

// Increment marks one unit of the series as settled. A non-nil err counts it
// as failed as well. It returns false when the series has no total or is
// already complete; the count is left unchanged in that case.
func (t *Tracker) Increment(seriesUID string, err error) bool {
	t.mu.Lock()
	s, ok := t.series[seriesUID]
	if !ok || s.Loaded >= s.Total {
		t.mu.Unlock()
		t.logger.Warn("ignoring progress for unknown or complete series", "seriesUid", seriesUID)
		return false
	}
	s.Loaded++
	if err != nil {
		s.Failed++
	}
	snap := *s
	t.mu.Unlock()

	t.notify(snap)
	return true
}

// Get returns the state of one series.
func (t *Tracker) Get(seriesUID string) (Series, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.series[seriesUID]
	if !ok {
		return Series{}, false
	}
	return *s, true
}

// Snapshot returns every series in the order its total was first set.
func (t *Tracker) Snapshot() []Series {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Series, 0, len(t.order))
	for _, uid := range t.order {
		out = append(out, *t.series[uid])
	}
	return out
}

// Failed returns the total number of failed units across all series.
func (t *Tracker) Failed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.series {
		n += s.Failed
	}
	return n
}

// Begin records a fetch going out.
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight == 0 {
		t.idle = make(chan struct{})
	}
	t.inFlight++
}

// End records a fetch settling.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight == 0 {
		t.logger.Error("in-flight counter would go negative")
		return
	}
	t.inFlight--
	if t.inFlight == 0 {
		close(t.idle)
	}
}

// InFlight returns the number of fetches that have begun and not ended.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// Idle returns a channel that is closed while nothing is in flight. Callers
// should fetch a fresh channel after each wake up since a new Begin replaces
// it.
func (t *Tracker) Idle() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle
}

// Pending lists the series that still expect units, sorted by uid.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for uid, s := range t.series {
		if !s.Done() {
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) notify(s Series) {
	if t.onUpdate != nil {
		t.onUpdate(s)
	}
}
