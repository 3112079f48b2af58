package vectorstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmind/docmind/internal/models"
)

type fakeQdrant struct {
	mu         sync.Mutex
	exists     bool
	size       int
	distance   string
	bodies     map[string][]string
	searchBody string
	failWith   int
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		body, _ := io.ReadAll(r.Body)
		key := r.Method + " " + r.URL.Path
		f.bodies[key] = append(f.bodies[key], string(body))

		if f.failWith != 0 {
			w.WriteHeader(f.failWith)
			_, _ = w.Write([]byte(`{"status":{"error":"boom"}}`))
			return
		}

		switch {
		case r.URL.Path == "/collections/docs" && r.Method == http.MethodGet:
			if !f.exists {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"status":{"error":"Not found"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"ok","result":{"config":{"params":{"vectors":{"size":` +
				jsonInt(f.size) + `,"distance":"` + f.distance + `"}}}}}`))
		case r.URL.Path == "/collections/docs" && r.Method == http.MethodPut:
			var req createCollectionRequest
			require.NoError(t, json.Unmarshal(body, &req))
			f.exists = true
			f.size = req.Vectors.Size
			f.distance = req.Vectors.Distance
			_, _ = w.Write([]byte(`{"status":"ok","result":true}`))
		case strings.HasSuffix(r.URL.Path, "/points/search"):
			_, _ = w.Write([]byte(f.searchBody))
		case strings.HasSuffix(r.URL.Path, "/points/count"):
			_, _ = w.Write([]byte(`{"status":"ok","result":{"count":7}}`))
		default:
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	})
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newFakeQdrant(t *testing.T, metric Metric) (*fakeQdrant, *QdrantStore) {
	t.Helper()
	fake := &fakeQdrant{bodies: make(map[string][]string)}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	store, err := NewQdrantStore(QdrantOptions{Endpoint: server.URL, HTTPClient: server.Client()},
		CollectionConfig{Name: "docs", Dimension: 2, Metric: metric})
	require.NoError(t, err)
	return fake, store
}

func TestQdrantCreatesMissingCollection(t *testing.T) {
	fake, store := newFakeQdrant(t, MetricCosine)

	require.NoError(t, store.Upsert(context.Background(),
		[]string{"a"}, [][]float32{{0.1, 0.2}}, []models.Payload{{Source: "x.pdf", Text: "hello", ChunkIndex: 0}}))

	assert.True(t, fake.exists)
	assert.Equal(t, 2, fake.size)
	assert.Equal(t, "Cosine", fake.distance)

	puts := fake.bodies["PUT /collections/docs/points"]
	require.Len(t, puts, 1)
	var req struct {
		Points []struct {
			ID      string         `json:"id"`
			Payload models.Payload `json:"payload"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal([]byte(puts[0]), &req))
	require.Len(t, req.Points, 1)
	assert.Equal(t, "a", req.Points[0].ID)
	assert.Equal(t, "x.pdf", req.Points[0].Payload.Source)
}

func TestQdrantDetectsConfigMismatch(t *testing.T) {
	fake, store := newFakeQdrant(t, MetricCosine)
	fake.exists = true
	fake.size = 3
	fake.distance = "Cosine"

	_, err := store.Count(context.Background(), nil)
	assert.ErrorIs(t, err, ErrConfigMismatch)

	fake.size = 2
	fake.distance = "Dot"
	err = store.EnsureCollection(context.Background(), store.Config())
	assert.ErrorIs(t, err, ErrConfigMismatch)
}

func TestQdrantSearchSendsSourceFilter(t *testing.T) {
	fake, store := newFakeQdrant(t, MetricCosine)
	fake.exists = true
	fake.size = 2
	fake.distance = "Cosine"
	fake.searchBody = `{"status":"ok","result":[
		{"id":"a","score":0.9,"payload":{"source":"x.pdf","text":"world","chunk_index":3}},
		{"id":"b","score":0.5,"payload":{"source":"y.pdf","text":"other","chunk_index":0}}]}`

	hits, err := store.Search(context.Background(), []float32{0.1, 0.2}, 5, SourceFilter([]string{"x.pdf", "y.pdf", "x.pdf"}))
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "world", hits[0].Text)
	assert.Equal(t, 3, hits[0].ChunkIndex)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-9)

	searches := fake.bodies["POST /collections/docs/points/search"]
	require.Len(t, searches, 1)
	var req searchRequest
	require.NoError(t, json.Unmarshal([]byte(searches[0]), &req))
	require.NotNil(t, req.Filter)
	assert.Equal(t, "source", req.Filter.Must[0].Key)
	assert.Equal(t, []string{"x.pdf", "y.pdf"}, req.Filter.Must[0].Match.Any)
	assert.Equal(t, 5, req.Limit)
}

func TestQdrantEuclidScoresAreSimilarities(t *testing.T) {
	fake, store := newFakeQdrant(t, MetricEuclid)
	fake.exists = true
	fake.size = 2
	fake.distance = "Euclid"
	fake.searchBody = `{"status":"ok","result":[{"id":"a","score":1,"payload":{"source":"x.pdf","text":"t","chunk_index":0}}]}`

	hits, err := store.Search(context.Background(), []float32{0.1, 0.2}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.5, hits[0].Score, 1e-9)
}

func TestQdrantCountAndDelete(t *testing.T) {
	fake, store := newFakeQdrant(t, MetricCosine)
	fake.exists = true
	fake.size = 2
	fake.distance = "Cosine"

	n, err := store.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	require.NoError(t, store.DeleteSource(context.Background(), "x.pdf"))
	deletes := fake.bodies["POST /collections/docs/points/delete"]
	require.Len(t, deletes, 1)
	assert.Contains(t, deletes[0], `"x.pdf"`)
}

func TestQdrantServerErrorIsUnavailable(t *testing.T) {
	fake, store := newFakeQdrant(t, MetricCosine)
	fake.failWith = http.StatusServiceUnavailable

	_, err := store.Count(context.Background(), nil)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	// the collection check is retried once the server recovers
	fake.mu.Lock()
	fake.failWith = 0
	fake.mu.Unlock()
	_, err = store.Count(context.Background(), nil)
	assert.NoError(t, err)
}

func TestQdrantUnreachableIsUnavailable(t *testing.T) {
	store, err := NewQdrantStore(QdrantOptions{Endpoint: "http://127.0.0.1:1"}, CollectionConfig{Name: "docs", Dimension: 2, Metric: MetricCosine})
	require.NoError(t, err)
	_, err = store.Search(context.Background(), []float32{1, 0}, 1, nil)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
