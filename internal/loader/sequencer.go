package loader

import (
	"context"

	"ikh/dicom-share-loader/internal/models"
)

// loadSeries fetches and renders the head of wl, waiting for it, then
// launches every tail unit without waiting.
func (s *Session) loadSeries(ctx context.Context, wl models.SeriesWorklist) {
	head, ok := wl.Head()
	if !ok {
		return
	}
	logCtx := s.logger.With("studyUid", wl.StudyUID, "seriesUid", wl.SeriesUID)
	logCtx.Debug("loading series", "units", len(wl.Units))

	if s.claim(head) {
		s.load(ctx, head, modeRender)
	}

	for _, unit := range wl.Tail() {
		if !s.claim(unit) {
			logCtx.Debug("unit already fetched", "sopUid", unit.SOPUID)
			continue
		}
		s.launch(ctx, unit)
	}
}

// launch starts a background fetch for a tail unit. With a tail cap the
// slot is acquired inside the goroutine so launch never blocks.
func (s *Session) launch(ctx context.Context, unit models.LoadUnit) {
	s.tails.Go(func() error {
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				s.logger.Warn("tail fetch not started",
					"seriesUid", unit.SeriesUID, "sopUid", unit.SOPUID, "error", err)
				s.progress.Increment(unit.SeriesUID, err)
				return nil
			}
			defer s.sem.Release(1)
		}
		s.load(ctx, unit, modeRegister)
		return nil
	})
}
