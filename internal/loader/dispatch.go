package loader

import (
	"context"
	"errors"

	"ikh/dicom-share-loader/internal/api"
	"ikh/dicom-share-loader/internal/models"
)

type mode int

const (
	// modeRender shows the first decoded instance and registers the rest.
	modeRender mode = iota
	// modeRegister registers every decoded instance.
	modeRegister
)

func (m mode) String() string {
	if m == modeRender {
		return "render"
	}
	return "register"
}

// load fetches one unit and dispatches what it decodes. Whatever happens,
// the unit's series is incremented exactly once and the in-flight count is
// restored.
func (s *Session) load(ctx context.Context, unit models.LoadUnit, m mode) {
	logCtx := s.logger.With("studyUid", unit.StudyUID, "seriesUid", unit.SeriesUID, "sopUid", unit.SOPUID)

	var err error
	s.progress.Begin()
	defer func() {
		s.progress.Increment(unit.SeriesUID, err)
		s.progress.End()
	}()

	var instances []models.DecodedInstance
	instances, err = s.pipeline.Fetch(ctx, unit)
	if err != nil {
		logCtx.Error("loading instance failed", "mode", m.String(), "error", err)
		var serr *api.StatusError
		if errors.As(err, &serr) {
			s.banner.SetError(serr.Error())
		}
		return
	}

	s.dispatch(ctx, instances, m)
	logCtx.Debug("instance loaded", "mode", m.String(), "parts", len(instances))
}

func (s *Session) dispatch(ctx context.Context, instances []models.DecodedInstance, m mode) {
	for i, inst := range instances {
		rendered := m == modeRender && i == 0
		if rendered {
			s.navigator.HighlightSeries(inst.SeriesUID)
			s.viewport.Reset()
			s.viewport.LoadInstance(inst)
		} else {
			s.registry.Register(inst)
		}
		s.record(ctx, inst, rendered)
	}
}

func (s *Session) record(ctx context.Context, inst models.DecodedInstance, rendered bool) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordInstance(ctx, s.ID, inst, rendered); err != nil {
		s.logger.Warn("recording instance failed", "sopUid", inst.SOPUID, "error", err)
	}
}
