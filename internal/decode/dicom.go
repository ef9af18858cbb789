package decode

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Part is one parsed DICOM instance out of a multipart body.
type Part struct {
	Raw       []byte
	Dataset   *dicom.Dataset
	PixelData *dicom.Element
	SOPUID    string
}

// ParsePart parses a single DICOM Part 10 payload.
func ParsePart(raw []byte) (*Part, error) {
	ds, err := dicom.Parse(bytes.NewReader(raw), int64(len(raw)), nil)
	if err != nil {
		return nil, fmt.Errorf("parsing dicom dataset: %w", err)
	}

	p := &Part{Raw: raw, Dataset: &ds}
	if elem, err := ds.FindElementByTag(tag.PixelData); err == nil {
		p.PixelData = elem
	}
	if elem, err := ds.FindElementByTag(tag.SOPInstanceUID); err == nil {
		p.SOPUID = firstString(elem)
	}
	return p, nil
}

// Decode splits body and parses every part. It fails when any part does not
// parse, since a half decoded response cannot be told apart from a broken one.
func Decode(contentType string, body []byte) ([]*Part, error) {
	raws, err := SplitMultipart(contentType, body)
	if err != nil {
		return nil, err
	}

	parts := make([]*Part, 0, len(raws))
	for i, raw := range raws {
		p, err := ParsePart(raw)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func firstString(elem *dicom.Element) string {
	if elem == nil || elem.Value == nil {
		return ""
	}
	strs, ok := elem.Value.GetValue().([]string)
	if !ok || len(strs) == 0 {
		return ""
	}
	return strings.TrimRight(strs[0], " \x00")
}
