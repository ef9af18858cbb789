package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"ikh/dicom-share-loader/internal/models"
	"ikh/dicom-share-loader/internal/tags"
)

// MultipartDICOM is sent as both Accept and Content-Type on instance
// retrieval.
const MultipartDICOM = `multipart/related; type="application/dicom"`

// ErrShareRejected is returned when the share API answers with ok=false.
var ErrShareRejected = errors.New("share link not accessible")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code    int
	Status  string
	Message string
	URL     string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API request failed with status code: %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("API request failed with status code: %d", e.Code)
}

// Client talks to the share endpoints of one share token.
type Client struct {
	baseURL string
	share   models.ShareReference
	http    *http.Client
	logger  *slog.Logger
}

// NewClient returns a client for the share API served under baseURL. A nil
// httpClient means http.DefaultClient.
func NewClient(baseURL string, share models.ShareReference, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if share.Token == "" {
		return nil, errors.New("share token must be provided")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		share:   share,
		http:    httpClient,
		logger:  logger,
	}, nil
}

type shareEnvelope struct {
	OK    bool                   `json:"ok"`
	Data  models.ShareDescriptor `json:"data"`
	Error string                 `json:"error"`
}

// ResolveShare fetches what the share token points at.
func (c *Client) ResolveShare(ctx context.Context) (models.ShareDescriptor, error) {
	resp, err := c.get(ctx, c.shareURL(), "application/json")
	if err != nil {
		return models.ShareDescriptor{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := statusError(resp)
		// error bodies carry the same envelope
		var env shareEnvelope
		if json.NewDecoder(resp.Body).Decode(&env) == nil && env.Error != "" {
			serr.Message = env.Error
		}
		return models.ShareDescriptor{}, serr
	}

	var env shareEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return models.ShareDescriptor{}, fmt.Errorf("decoding share info: %w", err)
	}
	if !env.OK {
		if env.Error != "" {
			return models.ShareDescriptor{}, fmt.Errorf("%w: %s", ErrShareRejected, env.Error)
		}
		return models.ShareDescriptor{}, ErrShareRejected
	}
	return env.Data, nil
}

// ListStudySeries lists the series of one study.
func (c *Client) ListStudySeries(ctx context.Context, studyUID string) ([]tags.Record, error) {
	return c.list(ctx, c.shareURL("studies", studyUID, "series"))
}

// ListShareSeries lists every series in the share.
func (c *Client) ListShareSeries(ctx context.Context) ([]tags.Record, error) {
	return c.list(ctx, c.shareURL("series"))
}

// ListSeriesInstances lists the instances of one series.
func (c *Client) ListSeriesInstances(ctx context.Context, studyUID, seriesUID string) ([]tags.Record, error) {
	return c.list(ctx, c.shareURL("studies", studyUID, "series", seriesUID, "instances"))
}

// ListShareInstances lists every instance in the share.
func (c *Client) ListShareInstances(ctx context.Context) ([]tags.Record, error) {
	return c.list(ctx, c.shareURL("instances"))
}

// Payload is a retrieved instance body.
type Payload struct {
	ContentType string
	Body        []byte
}

// FetchInstance retrieves the multipart body of one instance.
func (c *Client) FetchInstance(ctx context.Context, unit models.LoadUnit) (*Payload, error) {
	u := c.shareURL("studies", unit.StudyUID, "series", unit.SeriesUID, "instances", unit.SOPUID)
	resp, err := c.get(ctx, u, MultipartDICOM)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading instance body: %w", err)
	}
	return &Payload{ContentType: resp.Header.Get("Content-Type"), Body: body}, nil
}

func (c *Client) list(ctx context.Context, u string) ([]tags.Record, error) {
	resp, err := c.get(ctx, u, "application/dicom+json, application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	var records []tags.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding listing: %w", err)
	}
	return records, nil
}

func (c *Client) get(ctx context.Context, u, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if accept == MultipartDICOM {
		req.Header.Set("Content-Type", MultipartDICOM)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", redact(u), err)
	}
	c.logger.Debug("api response", "url", redact(u), "status", resp.StatusCode)
	return resp, nil
}

// shareURL builds /api/share/{token}/{segments...}?password=...
func (c *Client) shareURL(segments ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/api/share/")
	b.WriteString(url.PathEscape(c.share.Token))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	if c.share.Password != "" {
		b.WriteString("?password=")
		b.WriteString(url.QueryEscape(c.share.Password))
	}
	return b.String()
}

func statusError(resp *http.Response) *StatusError {
	serr := &StatusError{Code: resp.StatusCode, Status: resp.Status}
	if resp.Request != nil {
		serr.URL = redact(resp.Request.URL.String())
	}
	return serr
}

// redact keeps passwords out of logs and error messages.
func redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := parsed.Query()
	if q.Has("password") {
		q.Set("password", "xxxxx")
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}
