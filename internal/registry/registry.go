// Package registry keeps every decoded instance of a session, keyed by SOP
// Instance UID, so it can be shown later without fetching it again.
package registry

import (
	"log/slog"
	"sync"

	"ikh/dicom-share-loader/internal/models"
)

type Registry struct {
	mu        sync.RWMutex
	instances map[string]models.DecodedInstance
	bySeries  map[string][]string
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		instances: make(map[string]models.DecodedInstance),
		bySeries:  make(map[string][]string),
		logger:    logger,
	}
}

// Register stores inst. A second instance with the same SOP uid replaces
// the first and keeps its position in the series.
func (r *Registry) Register(inst models.DecodedInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[inst.SOPUID]; !ok {
		r.bySeries[inst.SeriesUID] = append(r.bySeries[inst.SeriesUID], inst.SOPUID)
	}
	r.instances[inst.SOPUID] = inst
	r.logger.Debug("instance registered", "seriesUid", inst.SeriesUID, "sopUid", inst.SOPUID)
}

// Find returns the instance with the given SOP uid.
func (r *Registry) Find(sopUID string) (models.DecodedInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[sopUID]
	return inst, ok
}

// Series returns the instances of one series in registration order.
func (r *Registry) Series(seriesUID string) []models.DecodedInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uids := r.bySeries[seriesUID]
	out := make([]models.DecodedInstance, 0, len(uids))
	for _, uid := range uids {
		out = append(out, r.instances[uid])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
