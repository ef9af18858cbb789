// Package viewer is a headless stand-in for a viewer UI. It keeps the state a
// viewport, series navigator and status banner would show and logs every
// change.
package viewer

import (
	"log/slog"
	"sync"

	"ikh/dicom-share-loader/internal/models"
)

// Frames is where shown instances are also kept.
type Frames interface {
	Register(inst models.DecodedInstance)
}

// State is what the console currently shows.
type State struct {
	Series   string `json:"highlighted_series,omitempty"`
	Instance string `json:"active_instance,omitempty"`
	Shown    int    `json:"shown"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Console implements the viewport, navigator and status banner of a
// session. It is safe for concurrent use.
type Console struct {
	frames Frames
	logger *slog.Logger

	mu    sync.Mutex
	state State
	shown []models.DecodedInstance
}

// New returns a console. Instances it shows are also registered with
// frames when frames is not nil.
func New(frames Frames, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{frames: frames, logger: logger.With("component", "viewer")}
}

// Reset clears the active instance.
func (c *Console) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Instance = ""
}

// LoadInstance makes inst the active instance.
func (c *Console) LoadInstance(inst models.DecodedInstance) {
	c.mu.Lock()
	c.state.Instance = inst.SOPUID
	c.state.Shown++
	c.shown = append(c.shown, inst)
	c.mu.Unlock()

	if c.frames != nil {
		c.frames.Register(inst)
	}
	c.logger.Info("showing instance",
		"seriesUid", inst.SeriesUID, "sopUid", inst.SOPUID,
		"blob", inst.Blob.URL, "pixelData", inst.PixelData != nil)
}

// HighlightSeries marks seriesUID as the selected series.
func (c *Console) HighlightSeries(seriesUID string) {
	c.mu.Lock()
	c.state.Series = seriesUID
	c.mu.Unlock()
	c.logger.Debug("series highlighted", "seriesUid", seriesUID)
}

func (c *Console) SetMessage(text string) {
	c.mu.Lock()
	c.state.Message = text
	c.mu.Unlock()
	c.logger.Info(text)
}

// SetError shows text as an error. The last error wins.
func (c *Console) SetError(text string) {
	c.mu.Lock()
	c.state.Error = text
	c.mu.Unlock()
	c.logger.Error("banner error", "message", text)
}

func (c *Console) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Shown returns every instance that was loaded into the viewport, oldest
// first.
func (c *Console) Shown() []models.DecodedInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.DecodedInstance(nil), c.shown...)
}
