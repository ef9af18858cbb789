package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikh/dicom-share-loader/internal/blob"
	"ikh/dicom-share-loader/internal/models"
)

func TestRegistry(t *testing.T) {
	r := New(nil)
	r.Register(models.DecodedInstance{SeriesUID: "S1", SOPUID: "a"})
	r.Register(models.DecodedInstance{SeriesUID: "S1", SOPUID: "b"})
	r.Register(models.DecodedInstance{SeriesUID: "S2", SOPUID: "c"})
	r.Register(models.DecodedInstance{SeriesUID: "S1", SOPUID: "a", Blob: blob.Ref{URL: "mem:x"}})

	assert.Equal(t, 3, r.Len())

	inst, ok := r.Find("a")
	require.True(t, ok)
	assert.Equal(t, "mem:x", inst.Blob.URL)

	_, ok = r.Find("zzz")
	assert.False(t, ok)

	var uids []string
	for _, inst := range r.Series("S1") {
		uids = append(uids, inst.SOPUID)
	}
	assert.Equal(t, []string{"a", "b"}, uids)
	assert.Empty(t, r.Series("none"))
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sop := fmt.Sprintf("sop-%d", i)
			r.Register(models.DecodedInstance{SeriesUID: "S", SOPUID: sop})
			_, ok := r.Find(sop)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, r.Len())
	assert.Len(t, r.Series("S"), 200)
}
