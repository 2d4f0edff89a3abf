package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"quarry/internal/adapter/gemini"
)

func newMockEmbedder(t *testing.T, handler http.HandlerFunc) (*gemini.Embedder, *httptest.Server) {
	ts := httptest.NewServer(handler)
	e, err := gemini.NewEmbedder(context.Background(), "test-key", option.WithEndpoint(ts.URL))
	require.NoError(t, err)
	return e, ts
}

func TestEmbedder_Embed(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		e, ts := newMockEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"embedding": map[string]interface{}{
					"values": []float32{0.1, 0.2, 0.3},
				},
			})
		})
		defer ts.Close()

		vec, err := e.Embed(context.Background(), "hello world")
		assert.NoError(t, err)
		if assert.Len(t, vec, 3) {
			assert.Equal(t, float32(0.1), vec[0])
		}
	})

	t.Run("Empty Embedding Is An Error", func(t *testing.T) {
		e, ts := newMockEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"embedding": map[string]interface{}{"values": []float32{}},
			})
		})
		defer ts.Close()

		vec, err := e.Embed(context.Background(), "hello")
		assert.Error(t, err)
		assert.Nil(t, vec)
	})

	t.Run("Provider Error Propagates", func(t *testing.T) {
		e, ts := newMockEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		})
		defer ts.Close()

		_, err := e.Embed(context.Background(), "hello")
		assert.Error(t, err)
	})
}

func TestEmbedder_Dimensions(t *testing.T) {
	e, ts := newMockEmbedder(t, func(w http.ResponseWriter, r *http.Request) {})
	defer ts.Close()
	assert.Equal(t, 3072, e.Dimensions())
}
