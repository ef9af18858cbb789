package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikh/dicom-share-loader/internal/models"
	"ikh/dicom-share-loader/internal/tags"
)

func newTestClient(t *testing.T, h http.HandlerFunc, password string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, models.ShareReference{Token: "tok", Password: password}, srv.Client(), nil)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("http://host", models.ShareReference{}, nil, nil)
	assert.Error(t, err)

	_, err = NewClient("not a url", models.ShareReference{Token: "t"}, nil, nil)
	assert.Error(t, err)

	c, err := NewClient("http://host/", models.ShareReference{Token: "t"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://host/api/share/t/series", c.shareURL("series"))
}

func TestResolveShare(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    models.ShareDescriptor
		wantErr func(t *testing.T, err error)
	}{
		{
			name:   "ok",
			status: http.StatusOK,
			body:   `{"ok":true,"data":{"targetType":"study","targets":[{"targetId":"1.2.840.1"}]}}`,
			want: models.ShareDescriptor{
				Granularity: models.GranularityStudy,
				Targets:     []models.TargetRef{{TargetID: "1.2.840.1"}},
			},
		},
		{
			name:   "rejected",
			status: http.StatusOK,
			body:   `{"ok":false,"error":"expired"}`,
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrShareRejected)
				assert.ErrorContains(t, err, "expired")
			},
		},
		{
			name:   "wrong password",
			status: http.StatusForbidden,
			body:   `{"ok":false,"error":"invalid password"}`,
			wantErr: func(t *testing.T, err error) {
				var serr *StatusError
				require.True(t, errors.As(err, &serr))
				assert.Equal(t, http.StatusForbidden, serr.Code)
				assert.Equal(t, "invalid password", serr.Message)
				assert.NotContains(t, serr.URL, "secret")
			},
		},
		{
			name:   "unknown share type",
			status: http.StatusOK,
			body:   `{"ok":true,"data":{"targetType":"patient","targets":[]}}`,
			wantErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "unknown share type")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/share/tok", r.URL.Path)
				assert.Equal(t, "secret", r.URL.Query().Get("password"))
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}, "secret")

			got, err := c.ResolveShare(context.Background())
			if tc.wantErr != nil {
				require.Error(t, err)
				tc.wantErr(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestListings(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.False(t, r.URL.Query().Has("password"), "empty password must not be sent")
		w.Write([]byte(`[{"0020000E":{"vr":"UI","Value":["9.8"]}}]`))
	}, "")

	ctx := context.Background()
	var all [][]tags.Record

	recs, err := c.ListStudySeries(ctx, "1.2")
	require.NoError(t, err)
	all = append(all, recs)
	recs, err = c.ListShareSeries(ctx)
	require.NoError(t, err)
	all = append(all, recs)
	recs, err = c.ListSeriesInstances(ctx, "1.2", "1.3")
	require.NoError(t, err)
	all = append(all, recs)
	recs, err = c.ListShareInstances(ctx)
	require.NoError(t, err)
	all = append(all, recs)

	assert.Equal(t, []string{
		"/api/share/tok/studies/1.2/series",
		"/api/share/tok/series",
		"/api/share/tok/studies/1.2/series/1.3/instances",
		"/api/share/tok/instances",
	}, paths)

	for _, recs := range all {
		require.Len(t, recs, 1)
		uid, ok := tags.String(recs[0], tags.SeriesUID)
		assert.True(t, ok)
		assert.Equal(t, "9.8", uid)
	}
}

func TestListing_Failures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/share/tok/series" {
			w.Write([]byte(`not json`))
			return
		}
		http.Error(w, "gone", http.StatusNotFound)
	}, "")

	_, err := c.ListShareSeries(context.Background())
	assert.ErrorContains(t, err, "decoding listing")

	_, err = c.ListShareInstances(context.Background())
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusNotFound, serr.Code)
}

func TestFetchInstance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/share/tok/studies/1/series/2/instances/3", r.URL.Path)
		assert.Equal(t, MultipartDICOM, r.Header.Get("Accept"))
		assert.Equal(t, MultipartDICOM, r.Header.Get("Content-Type"))
		assert.Equal(t, "p w", r.URL.Query().Get("password"))
		w.Header().Set("Content-Type", `multipart/related; boundary=xyz`)
		w.Write([]byte("payload"))
	}, "p w")

	p, err := c.FetchInstance(context.Background(), models.LoadUnit{StudyUID: "1", SeriesUID: "2", SOPUID: "3"})
	require.NoError(t, err)
	assert.Equal(t, "multipart/related; boundary=xyz", p.ContentType)
	assert.Equal(t, []byte("payload"), p.Body)
}

func TestFetchInstance_Status(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, "")

	_, err := c.FetchInstance(context.Background(), models.LoadUnit{StudyUID: "1", SeriesUID: "2", SOPUID: "3"})
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusServiceUnavailable, serr.Code)
	assert.Equal(t, "API request failed with status code: 503", serr.Error())
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "http://h/api?password=xxxxx", redact("http://h/api?password=hunter2"))
	assert.Equal(t, "http://h/api", redact("http://h/api"))
}
