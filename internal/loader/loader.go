// Package loader resolves a share into per-series worklists and loads them
// head first: the head instance of every series is fetched and rendered in
// order, the remaining instances are fetched in the background and only
// registered.
//
// The package never talks to a concrete viewer. Everything it drives is
// described by the small interfaces below and supplied by the caller.
package loader

import (
	"context"

	"ikh/dicom-share-loader/internal/api"
	"ikh/dicom-share-loader/internal/blob"
	"ikh/dicom-share-loader/internal/models"
	"ikh/dicom-share-loader/internal/tags"
)

// ShareResolver turns the session's share token into a descriptor.
// The concrete implementation is api.Client.
type ShareResolver interface {
	ResolveShare(ctx context.Context) (models.ShareDescriptor, error)
}

// Lister returns attribute records for the listing endpoints.
type Lister interface {
	ListStudySeries(ctx context.Context, studyUID string) ([]tags.Record, error)
	ListShareSeries(ctx context.Context) ([]tags.Record, error)
	ListSeriesInstances(ctx context.Context, studyUID, seriesUID string) ([]tags.Record, error)
	ListShareInstances(ctx context.Context) ([]tags.Record, error)
}

// Fetcher retrieves the multipart body of one instance.
type Fetcher interface {
	FetchInstance(ctx context.Context, unit models.LoadUnit) (*api.Payload, error)
}

// ShareAPI is everything a session needs from the share service.
type ShareAPI interface {
	ShareResolver
	Lister
	Fetcher
}

// Viewport is the rendering surface the head instance is shown on.
type Viewport interface {
	Reset()
	LoadInstance(inst models.DecodedInstance)
}

// Navigator highlights the series that is being shown.
type Navigator interface {
	HighlightSeries(seriesUID string)
}

// FrameRegistry keeps instances that were loaded but not shown.
type FrameRegistry interface {
	Register(inst models.DecodedInstance)
}

// StatusBanner shows user facing status text.
type StatusBanner interface {
	SetMessage(text string)
	SetError(text string)
}

// Progress receives per-series totals and settled units. The concrete
// implementation is progress.Tracker.
type Progress interface {
	SetTotal(seriesUID string, n int)
	Increment(seriesUID string, err error) bool
	Begin()
	End()
}

// BlobStore keeps the raw bytes of every decoded part.
type BlobStore interface {
	Put(data []byte, mediaType string) (blob.Ref, error)
	Remove(ref blob.Ref) error
}

// Recorder is told about every dispatched instance. rendered is true for the
// instance that went to the viewport.
type Recorder interface {
	RecordInstance(ctx context.Context, sessionID string, inst models.DecodedInstance, rendered bool) error
}
