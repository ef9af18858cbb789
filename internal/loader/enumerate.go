package loader

import (
	"context"
	"iter"
	"log/slog"
	"sort"

	"ikh/dicom-share-loader/internal/models"
	"ikh/dicom-share-loader/internal/tags"
)

// Enumerator turns a share descriptor into series worklists.
type Enumerator struct {
	lister   Lister
	progress Progress
	logger   *slog.Logger
}

// NewEnumerator returns an enumerator. A nil logger means slog.Default().
func NewEnumerator(lister Lister, progress Progress, logger *slog.Logger) *Enumerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enumerator{lister: lister, progress: progress, logger: logger}
}

// Worklists yields one worklist per non-empty series in resolution order.
// Listing happens lazily, so a consumer can start loading a series before
// the next one has been listed. The series total is set on the progress
// tracker right before its worklist is yielded.
//
// A failing listing only drops the scope it covers. Worklists stops early
// when ctx is done.
func (e *Enumerator) Worklists(ctx context.Context, desc models.ShareDescriptor, filter models.Filter) iter.Seq[models.SeriesWorklist] {
	return func(yield func(models.SeriesWorklist) bool) {
		seen := make(map[string]struct{})
		emit := func(wl models.SeriesWorklist) bool {
			wl.Units = dedupe(wl.Units, seen)
			if len(wl.Units) == 0 {
				e.logger.Debug("skipping empty series", "studyUid", wl.StudyUID, "seriesUid", wl.SeriesUID)
				return true
			}
			e.progress.SetTotal(wl.SeriesUID, len(wl.Units))
			return yield(wl)
		}

		switch desc.Granularity {
		case models.GranularityStudy:
			e.studies(ctx, desc.Targets, filter, emit)
		case models.GranularitySeries:
			e.shareSeries(ctx, filter, emit)
		case models.GranularityInstance:
			e.shareInstances(ctx, emit)
		default:
			e.logger.Error("unknown share type", "targetType", string(desc.Granularity))
		}
	}
}

// Resolve lists every worklist up front.
func (e *Enumerator) Resolve(ctx context.Context, desc models.ShareDescriptor, filter models.Filter) ([]models.SeriesWorklist, error) {
	if err := validGranularity(desc.Granularity); err != nil {
		return nil, err
	}
	var out []models.SeriesWorklist
	for wl := range e.Worklists(ctx, desc, filter) {
		out = append(out, wl)
	}
	return out, ctx.Err()
}

func (e *Enumerator) studies(ctx context.Context, targets []models.TargetRef, filter models.Filter, emit func(models.SeriesWorklist) bool) {
	for _, target := range targets {
		if ctx.Err() != nil {
			return
		}
		logCtx := e.logger.With("studyUid", target.TargetID)

		records, err := e.lister.ListStudySeries(ctx, target.TargetID)
		if err != nil {
			logCtx.Warn("listing study series failed", "error", err)
			continue
		}

		for _, rec := range records {
			seriesUID, ok := tags.String(rec, tags.SeriesUID)
			if !ok {
				logCtx.Debug("series record without SeriesInstanceUID")
				continue
			}
			if !filter.KeepSeries(seriesUID) {
				continue
			}
			if !e.series(ctx, target.TargetID, seriesUID, filter, emit) {
				return
			}
		}
	}
}

func (e *Enumerator) shareSeries(ctx context.Context, filter models.Filter, emit func(models.SeriesWorklist) bool) {
	records, err := e.lister.ListShareSeries(ctx)
	if err != nil {
		e.logger.Warn("listing share series failed", "error", err)
		return
	}

	for _, rec := range records {
		studyUID, okStudy := tags.String(rec, tags.StudyUID)
		seriesUID, okSeries := tags.String(rec, tags.SeriesUID)
		if !okStudy || !okSeries {
			e.logger.Debug("series record without study or series uid")
			continue
		}
		if !filter.KeepSeries(seriesUID) {
			continue
		}
		if !e.series(ctx, studyUID, seriesUID, filter, emit) {
			return
		}
	}
}

// series lists one series and emits it. It returns false when the consumer
// or ctx asked to stop.
func (e *Enumerator) series(ctx context.Context, studyUID, seriesUID string, filter models.Filter, emit func(models.SeriesWorklist) bool) bool {
	if ctx.Err() != nil {
		return false
	}

	records, err := e.lister.ListSeriesInstances(ctx, studyUID, seriesUID)
	if err != nil {
		e.logger.Warn("listing series instances failed",
			"studyUid", studyUID, "seriesUid", seriesUID, "error", err)
		return true
	}

	wl := models.SeriesWorklist{StudyUID: studyUID, SeriesUID: seriesUID}
	for _, rec := range records {
		sopUID, ok := tags.String(rec, tags.SOPUID)
		if !ok {
			e.logger.Debug("instance record without SOPInstanceUID", "seriesUid", seriesUID)
			continue
		}
		if !filter.KeepSOP(sopUID) {
			continue
		}
		wl.Units = append(wl.Units, unitFor(rec, studyUID, seriesUID, sopUID))
	}
	orderUnits(wl.Units)
	return emit(wl)
}

func (e *Enumerator) shareInstances(ctx context.Context, emit func(models.SeriesWorklist) bool) {
	records, err := e.lister.ListShareInstances(ctx)
	if err != nil {
		e.logger.Warn("listing share instances failed", "error", err)
		return
	}

	var groups []*models.SeriesWorklist
	bySeries := make(map[string]*models.SeriesWorklist)
	for _, rec := range records {
		studyUID, okStudy := tags.String(rec, tags.StudyUID)
		seriesUID, okSeries := tags.String(rec, tags.SeriesUID)
		sopUID, okSOP := tags.String(rec, tags.SOPUID)
		if !okStudy || !okSeries || !okSOP {
			e.logger.Debug("instance record without study, series or sop uid")
			continue
		}

		wl, ok := bySeries[seriesUID]
		if !ok {
			wl = &models.SeriesWorklist{StudyUID: studyUID, SeriesUID: seriesUID}
			bySeries[seriesUID] = wl
			groups = append(groups, wl)
		}
		wl.Units = append(wl.Units, unitFor(rec, studyUID, seriesUID, sopUID))
	}

	for _, wl := range groups {
		if ctx.Err() != nil {
			return
		}
		orderUnits(wl.Units)
		if !emit(*wl) {
			return
		}
	}
}

func unitFor(rec tags.Record, studyUID, seriesUID, sopUID string) models.LoadUnit {
	return models.LoadUnit{
		StudyUID:       studyUID,
		SeriesUID:      seriesUID,
		SOPUID:         sopUID,
		InstanceNumber: tags.OrderKey(rec),
	}
}

// orderUnits sorts by InstanceNumber, missing numbers last, keeping listing
// order between equal keys.
func orderUnits(units []models.LoadUnit) {
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].InstanceNumber < units[j].InstanceNumber
	})
}

func dedupe(units []models.LoadUnit, seen map[string]struct{}) []models.LoadUnit {
	out := units[:0:0]
	for _, u := range units {
		if _, dup := seen[u.Key()]; dup {
			continue
		}
		seen[u.Key()] = struct{}{}
		out = append(out, u)
	}
	return out
}

func validGranularity(g models.Granularity) error {
	_, err := models.ParseGranularity(string(g))
	return err
}
