package loader

import (
	"context"
	"fmt"
	"log/slog"

	"ikh/dicom-share-loader/internal/decode"
	"ikh/dicom-share-loader/internal/models"
)

// DecodeFunc splits and parses a retrieved body.
type DecodeFunc func(contentType string, body []byte) ([]*decode.Part, error)

// Pipeline fetches one unit and turns its body into decoded instances.
type Pipeline struct {
	fetcher Fetcher
	blobs   BlobStore
	decode  DecodeFunc
	logger  *slog.Logger
}

// NewPipeline returns a pipeline. A nil decodeFn means decode.Decode.
func NewPipeline(fetcher Fetcher, blobs BlobStore, decodeFn DecodeFunc, logger *slog.Logger) *Pipeline {
	if decodeFn == nil {
		decodeFn = decode.Decode
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{fetcher: fetcher, blobs: blobs, decode: decodeFn, logger: logger}
}

// Fetch retrieves unit, decodes every part of the body and stores each
// part's bytes as a blob. Instances are returned in body order.
func (p *Pipeline) Fetch(ctx context.Context, unit models.LoadUnit) ([]models.DecodedInstance, error) {
	payload, err := p.fetcher.FetchInstance(ctx, unit)
	if err != nil {
		return nil, err
	}

	parts, err := p.decode(payload.ContentType, payload.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", unit.SOPUID, err)
	}

	out := make([]models.DecodedInstance, 0, len(parts))
	for _, part := range parts {
		ref, err := p.blobs.Put(part.Raw, "application/dicom")
		if err != nil {
			p.discard(out)
			return nil, fmt.Errorf("storing %s: %w", unit.SOPUID, err)
		}

		sopUID := part.SOPUID
		if sopUID == "" {
			sopUID = unit.SOPUID
		}
		out = append(out, models.DecodedInstance{
			StudyUID:  unit.StudyUID,
			SeriesUID: unit.SeriesUID,
			SOPUID:    sopUID,
			Dataset:   part.Dataset,
			PixelData: part.PixelData,
			Blob:      ref,
		})
	}

	if len(out) > 1 {
		p.logger.Debug("multi-part instance body", "sopUid", unit.SOPUID, "parts", len(out))
	}
	return out, nil
}

// discard removes the blobs of a unit that failed half way.
func (p *Pipeline) discard(instances []models.DecodedInstance) {
	for _, inst := range instances {
		if err := p.blobs.Remove(inst.Blob); err != nil {
			p.logger.Warn("removing blob failed", "blob", inst.Blob.URL, "error", err)
		}
	}
}
