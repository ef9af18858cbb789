package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"ikh/dicom-share-loader/internal/api"
	"ikh/dicom-share-loader/internal/decode"
	"ikh/dicom-share-loader/internal/models"
	"ikh/dicom-share-loader/internal/tags"
)

// MockShareAPI implements ShareAPI for testing.
type MockShareAPI struct {
	ResolveShareFunc        func(ctx context.Context) (models.ShareDescriptor, error)
	ListStudySeriesFunc     func(ctx context.Context, studyUID string) ([]tags.Record, error)
	ListShareSeriesFunc     func(ctx context.Context) ([]tags.Record, error)
	ListSeriesInstancesFunc func(ctx context.Context, studyUID, seriesUID string) ([]tags.Record, error)
	ListShareInstancesFunc  func(ctx context.Context) ([]tags.Record, error)
	FetchInstanceFunc       func(ctx context.Context, unit models.LoadUnit) (*api.Payload, error)

	mu      sync.Mutex
	fetched []string
}

func (m *MockShareAPI) ResolveShare(ctx context.Context) (models.ShareDescriptor, error) {
	if m.ResolveShareFunc != nil {
		return m.ResolveShareFunc(ctx)
	}
	return models.ShareDescriptor{}, nil
}

func (m *MockShareAPI) ListStudySeries(ctx context.Context, studyUID string) ([]tags.Record, error) {
	if m.ListStudySeriesFunc != nil {
		return m.ListStudySeriesFunc(ctx, studyUID)
	}
	return nil, nil
}

func (m *MockShareAPI) ListShareSeries(ctx context.Context) ([]tags.Record, error) {
	if m.ListShareSeriesFunc != nil {
		return m.ListShareSeriesFunc(ctx)
	}
	return nil, nil
}

func (m *MockShareAPI) ListSeriesInstances(ctx context.Context, studyUID, seriesUID string) ([]tags.Record, error) {
	if m.ListSeriesInstancesFunc != nil {
		return m.ListSeriesInstancesFunc(ctx, studyUID, seriesUID)
	}
	return nil, nil
}

func (m *MockShareAPI) ListShareInstances(ctx context.Context) ([]tags.Record, error) {
	if m.ListShareInstancesFunc != nil {
		return m.ListShareInstancesFunc(ctx)
	}
	return nil, nil
}

func (m *MockShareAPI) FetchInstance(ctx context.Context, unit models.LoadUnit) (*api.Payload, error) {
	m.mu.Lock()
	m.fetched = append(m.fetched, unit.SOPUID)
	m.mu.Unlock()
	if m.FetchInstanceFunc != nil {
		return m.FetchInstanceFunc(ctx, unit)
	}
	return &api.Payload{ContentType: "test/parts", Body: []byte(unit.SOPUID)}, nil
}

func (m *MockShareAPI) Fetched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fetched...)
}

// fakeDecode treats the body as a "|" separated list of SOP uids, one part
// each.
func fakeDecode(contentType string, body []byte) ([]*decode.Part, error) {
	if strings.HasPrefix(string(body), "corrupt") {
		return nil, fmt.Errorf("not a dicom body")
	}
	var parts []*decode.Part
	for _, sop := range strings.Split(string(body), "|") {
		parts = append(parts, &decode.Part{Raw: []byte(sop), SOPUID: sop})
	}
	return parts, nil
}

// fakeViewer implements Viewport, Navigator, FrameRegistry and StatusBanner
// and logs every call in order.
type fakeViewer struct {
	mu         sync.Mutex
	events     []string
	rendered   []string
	registered []string
	messages   []string
	errors     []string
}

func (v *fakeViewer) add(event string) {
	v.events = append(v.events, event)
}

func (v *fakeViewer) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.add("reset")
}

func (v *fakeViewer) LoadInstance(inst models.DecodedInstance) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.add("load:" + inst.SOPUID)
	v.rendered = append(v.rendered, inst.SOPUID)
}

func (v *fakeViewer) HighlightSeries(seriesUID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.add("highlight:" + seriesUID)
}

func (v *fakeViewer) Register(inst models.DecodedInstance) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.registered = append(v.registered, inst.SOPUID)
}

func (v *fakeViewer) SetMessage(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, text)
}

func (v *fakeViewer) SetError(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errors = append(v.errors, text)
}

func (v *fakeViewer) Rendered() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.rendered...)
}

func (v *fakeViewer) Registered() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.registered...)
}

func (v *fakeViewer) Events() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.events...)
}

func (v *fakeViewer) Errors() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.errors...)
}

// MockRecorder implements Recorder for testing.
type MockRecorder struct {
	RecordInstanceFunc func(ctx context.Context, sessionID string, inst models.DecodedInstance, rendered bool) error
}

func (m *MockRecorder) RecordInstance(ctx context.Context, sessionID string, inst models.DecodedInstance, rendered bool) error {
	if m.RecordInstanceFunc != nil {
		return m.RecordInstanceFunc(ctx, sessionID, inst, rendered)
	}
	return nil
}

func uidValue(v string) tags.Attribute {
	raw, _ := json.Marshal(v)
	return tags.Attribute{VR: "UI", Value: []json.RawMessage{raw}}
}

// seriesRecord is a listing entry for a series.
func seriesRecord(studyUID, seriesUID string) tags.Record {
	rec := tags.Record{string(tags.SeriesUID): uidValue(seriesUID)}
	if studyUID != "" {
		rec[string(tags.StudyUID)] = uidValue(studyUID)
	}
	return rec
}

// instanceRecord is a listing entry for an instance. A nil number leaves
// InstanceNumber out.
func instanceRecord(studyUID, seriesUID, sopUID string, number any) tags.Record {
	rec := seriesRecord(studyUID, seriesUID)
	rec[string(tags.SOPUID)] = uidValue(sopUID)
	if number != nil {
		raw, _ := json.Marshal(number)
		rec[string(tags.InstanceNumber)] = tags.Attribute{VR: "IS", Value: []json.RawMessage{raw}}
	}
	return rec
}
