package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShareURL(t *testing.T) {
	nav, err := ParseShareURL("https://pacs.example.org:8443/viewer/index.html?shareToken=tok123&password=p%40ss&SeriesInstanceUID=1.2.3,%201.2.4&SOPInstanceUID=")
	require.NoError(t, err)

	assert.Equal(t, "https://pacs.example.org:8443", nav.BaseURL)
	assert.Equal(t, ShareReference{Token: "tok123", Password: "p@ss"}, nav.Share)
	assert.Len(t, nav.Filter.SeriesUIDs, 2)
	assert.True(t, nav.Filter.KeepSeries("1.2.4"))
	assert.False(t, nav.Filter.KeepSeries("1.2.5"))
	assert.True(t, nav.Filter.KeepSOP("anything"))
}

func TestParseShareURL_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"relative", "/viewer?shareToken=abc"},
		{"no token", "https://host/viewer?password=x"},
		{"blank token", "https://host/viewer?shareToken=%20"},
		{"bad escape", "https://host/%zz"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseShareURL(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestSplitUIDs(t *testing.T) {
	set := SplitUIDs(" a, b,,c ,a")
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}, "c": {}}, set)
	assert.Empty(t, SplitUIDs(""))
}

func TestShareDescriptorJSON(t *testing.T) {
	var desc ShareDescriptor
	require.NoError(t, json.Unmarshal([]byte(`{"targetType":"Study","targets":[{"targetId":"1.2"}]}`), &desc))
	assert.Equal(t, GranularityStudy, desc.Granularity)
	assert.Equal(t, []TargetRef{{TargetID: "1.2"}}, desc.Targets)

	err := json.Unmarshal([]byte(`{"targetType":"patient","targets":[]}`), &desc)
	assert.ErrorContains(t, err, "unknown share type")
}

func TestSeriesWorklistHeadTail(t *testing.T) {
	var empty SeriesWorklist
	_, ok := empty.Head()
	assert.False(t, ok)
	assert.Nil(t, empty.Tail())

	w := SeriesWorklist{Units: []LoadUnit{{SOPUID: "a"}, {SOPUID: "b"}, {SOPUID: "c"}}}
	head, ok := w.Head()
	require.True(t, ok)
	assert.Equal(t, "a", head.SOPUID)
	assert.Len(t, w.Tail(), 2)
}
