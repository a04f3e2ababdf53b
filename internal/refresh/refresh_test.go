package refresh

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elvcal/internal/clock"
	"elvcal/internal/elvanto"
	"elvcal/internal/model"
	"elvcal/internal/store"
)

var fixedClock = clock.Fixed{T: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

const upstreamEvents = `{"status":"ok","events":{"total":3,"page":1,"per_page":100,"on_this_page":3,"event":[
	{"id":"svc-1","name":"Sunday Service (calendar)","start_date":"2024-05-05 10:00:00","color":"#1565c0"},
	{"id":"ev-2","name":"Youth Night","start_date":"2024-05-03 18:30:00","color":"#ff0000","register_url":"https://reg.example/y"},
	{"id":"ev-3","name":"Picnic","start_date":"2024-05-04","all_day":1}
]}}`

const upstreamServices = `{"status":"ok","services":{"total":2,"page":1,"per_page":100,"on_this_page":2,"service":[
	{"id":"svc-1","name":"Sunday Service","series_name":"Sunday","date":"2024-05-05 10:00:00"},
	{"id":"svc-2","name":"Evening Prayer","date":"2024-05-02 19:00:00"}
]}}`

type upstream struct {
	hits         atomic.Int32
	failEvents   atomic.Bool
	dropServices atomic.Bool
	failServices atomic.Bool
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.hits.Add(1)
	switch {
	case strings.HasPrefix(r.URL.Path, "/calendar/events"):
		if u.failEvents.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, upstreamEvents)
	case strings.HasPrefix(r.URL.Path, "/services"):
		if u.dropServices.Load() {
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, err := hj.Hijack()
				if err == nil {
					conn.Close()
				}
			}
			return
		}
		if u.failServices.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, upstreamServices)
	default:
		http.NotFound(w, r)
	}
}

func newRefresher(t *testing.T, up *upstream, st store.Store, opts ...Option) *Refresher {
	t.Helper()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)
	client := elvanto.New(elvanto.WithBaseURL(srv.URL), elvanto.WithTimeout(2*time.Second))
	return New(st, client, fixedClock, opts...)
}

func itemIDs(items []model.Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func TestRunMergesAndPersists(t *testing.T) {
	st := store.NewMemory()
	r := newRefresher(t, &upstream{}, st,
		WithLinkText(func() string { return "Sunday|https://church.example/sunday" }),
		WithRunID(func() string { return "run-1" }),
	)

	res := r.Run(context.Background(), "key")
	require.True(t, res.Ran)

	snap := res.Snapshot
	assert.Equal(t, model.StatusSuccess, snap.Status)
	assert.False(t, snap.Partial)
	assert.Equal(t, []string{"svc-2", "ev-2", "ev-3", "svc-1"}, itemIDs(snap.Items))

	sunday := snap.Items[3]
	assert.Equal(t, model.SourceService, sunday.Source)
	assert.Equal(t, "#1565c0", sunday.Color)
	assert.Equal(t, "https://church.example/sunday", sunday.LinkInfo)
	assert.Equal(t, "Sunday", sunday.Subtitle)

	assert.Equal(t, "run-1", snap.Diagnostics.RunID)
	assert.Equal(t, "2024-05-01", clock.DateString(snap.Diagnostics.Window.Start))
	assert.Equal(t, "2024-06-01", clock.DateString(snap.Diagnostics.Window.End))
	assert.Equal(t, []string{"svc-1"}, snap.Diagnostics.Merge.DuplicatesSkipped)
	assert.Equal(t, 2, snap.Diagnostics.Merge.ServicesConverted)
	assert.Equal(t, 2, snap.Diagnostics.Merge.EventsAdded)
	assert.Empty(t, snap.Diagnostics.Errors)

	stored, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, itemIDs(snap.Items), itemIDs(stored.Items))
	assert.Equal(t, model.StatusSuccess, stored.Status)
	assert.True(t, stored.RefreshedAt.Equal(fixedClock.T))

	raw, ok, err := st.Get(context.Background(), store.KeyRawEvents)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), "Youth Night")

	_, ok, err = st.Get(context.Background(), store.KeyRawServices)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunServicesTransportErrorKeepsEvents(t *testing.T) {
	up := &upstream{}
	up.dropServices.Store(true)
	r := newRefresher(t, up, store.NewMemory())

	snap := r.Run(context.Background(), "key").Snapshot

	assert.Equal(t, model.StatusSuccess, snap.Status)
	assert.True(t, snap.Partial)
	assert.Equal(t, []string{"ev-2", "ev-3", "svc-1"}, itemIDs(snap.Items))
	for _, it := range snap.Items {
		assert.Equal(t, model.SourceEvent, it.Source)
	}
	require.Len(t, snap.Diagnostics.Errors, 1)
	assert.Equal(t, string(elvanto.KindTransport), snap.Diagnostics.Endpoints.Services.ErrorKind)
	assert.Empty(t, snap.Diagnostics.Endpoints.Events.Error)
}

func TestRunBothFailOverwritesWithEmpty(t *testing.T) {
	st := store.NewMemory()
	up := &upstream{}
	r := newRefresher(t, up, st)

	first := r.Run(context.Background(), "key").Snapshot
	require.NotEmpty(t, first.Items)

	up.failEvents.Store(true)
	up.failServices.Store(true)
	second := r.Run(context.Background(), "key").Snapshot

	assert.Equal(t, model.StatusFailure, second.Status)
	assert.False(t, second.Partial)
	assert.Empty(t, second.Items)
	assert.Len(t, second.Diagnostics.Errors, 2)

	items, err := r.Events(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)
}

func TestRunIgnoresCallerCancellation(t *testing.T) {
	st := store.NewMemory()
	r := newRefresher(t, &upstream{}, st)

	first := r.Run(context.Background(), "key").Snapshot
	require.Len(t, first.Items, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.Run(ctx, "key")

	require.True(t, res.Ran)
	assert.Equal(t, model.StatusSuccess, res.Snapshot.Status)
	assert.Empty(t, res.Snapshot.Diagnostics.Errors)

	items, err := r.Events(context.Background())
	require.NoError(t, err)
	assert.Equal(t, itemIDs(first.Items), itemIDs(items))
}

func TestRunEmptyKeyIsNoop(t *testing.T) {
	st := store.NewMemory()
	up := &upstream{}
	r := newRefresher(t, up, st)

	prior := r.Run(context.Background(), "key").Snapshot
	hits := up.hits.Load()

	res := r.Run(context.Background(), "")
	assert.False(t, res.Ran)
	assert.Equal(t, hits, up.hits.Load())
	assert.Equal(t, itemIDs(prior.Items), itemIDs(res.Snapshot.Items))
	assert.Equal(t, prior.Diagnostics.RunID, res.Snapshot.Diagnostics.RunID)
}

func TestRunEmptyKeyWithoutPriorState(t *testing.T) {
	up := &upstream{}
	r := newRefresher(t, up, store.NewMemory())

	res := r.Run(context.Background(), "")
	assert.False(t, res.Ran)
	assert.Empty(t, res.Snapshot.Items)
	assert.Equal(t, int32(0), up.hits.Load())

	items, err := r.Events(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

type failingStore struct{ *store.Memory }

func (f *failingStore) Set(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestRunStoreFailureIsFailure(t *testing.T) {
	r := newRefresher(t, &upstream{}, &failingStore{store.NewMemory()})

	res := r.Run(context.Background(), "key")
	assert.True(t, res.Ran)
	assert.Equal(t, model.StatusFailure, res.Snapshot.Status)
	assert.NotEmpty(t, res.Snapshot.Items)
	assert.Contains(t, strings.Join(res.Snapshot.Diagnostics.Errors, "\n"), "disk full")
}

type slowFetcher struct {
	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *slowFetcher) enter() {
	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	f.active.Add(-1)
}

func (f *slowFetcher) FetchEvents(context.Context, string, model.Window) ([]model.RawEvent, model.EndpointDiagnostics, error) {
	f.enter()
	return []model.RawEvent{{ID: "e"}}, model.EndpointDiagnostics{}, nil
}

func (f *slowFetcher) FetchServices(context.Context, string, model.Window) ([]model.RawService, model.EndpointDiagnostics, error) {
	return nil, model.EndpointDiagnostics{}, nil
}

func TestRunsAreSerialized(t *testing.T) {
	f := &slowFetcher{}
	r := New(store.NewMemory(), f, fixedClock)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(context.Background(), "key")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.maxActive.Load())
}

func TestRunIDsAreUnique(t *testing.T) {
	r := New(store.NewMemory(), &slowFetcher{}, fixedClock)
	a := r.Run(context.Background(), "key").Snapshot.Diagnostics.RunID
	b := r.Run(context.Background(), "key").Snapshot.Diagnostics.RunID
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
