// Package decode turns a retrieved instance body into parsed DICOM parts.
package decode

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"
)

// ErrNoParts is returned when a body holds no non-empty part.
var ErrNoParts = errors.New("multipart body has no parts")

// SplitMultipart splits a multipart/related body into the raw bytes of each
// part. The boundary comes from contentType when it carries one, otherwise it
// is read from the first line of the body. A body that is not multipart at
// all is returned as a single part.
func SplitMultipart(contentType string, body []byte) ([][]byte, error) {
	boundary := boundaryFromHeader(contentType)
	if boundary == "" {
		boundary = sniffBoundary(body)
	}
	if boundary == "" {
		if len(body) == 0 {
			return nil, ErrNoParts
		}
		return [][]byte{body}, nil
	}

	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	var parts [][]byte
	for {
		p, err := mr.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading multipart part %d: %w", len(parts), err)
		}
		b, err := io.ReadAll(p)
		p.Close()
		if err != nil {
			return nil, fmt.Errorf("reading multipart part %d: %w", len(parts), err)
		}
		if len(b) > 0 {
			parts = append(parts, b)
		}
	}

	if len(parts) == 0 {
		return nil, ErrNoParts
	}
	return parts, nil
}

func boundaryFromHeader(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return ""
	}
	return params["boundary"]
}

// sniffBoundary reads "--boundary" off the first non-empty line.
func sniffBoundary(body []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 256), 4096)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "--") && len(line) > 2 {
			return strings.TrimPrefix(line, "--")
		}
		return ""
	}
	return ""
}
