package datasource

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kong/retcon/pkg/document"
	"github.com/kong/retcon/pkg/model"
)

func TestHTTPDataSourceCreateReturnsNewForeignKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "Alice")
		w.Write([]byte(`{"key":"K1-prime"}`))
	}))
	defer srv.Close()

	ds := &HTTPDataSource{Entity: "customer", Source: "data", BaseURL: srv.URL}
	doc := document.Empty().Set(document.Path{"name"}, "Alice")

	fk, err := ds.Create(t.Context(), doc)
	require.NoError(t, err)
	assert.Equal(t, model.ForeignKey{Entity: "customer", Source: "data", Key: "K1-prime"}, fk)
}

func TestHTTPDataSourceReadDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/K1", r.URL.Path)
		w.Write([]byte(`{"name":"Alice"}`))
	}))
	defer srv.Close()

	ds := &HTTPDataSource{Entity: "customer", Source: "data", BaseURL: srv.URL}
	doc, err := ds.Read(t.Context(), model.ForeignKey{Entity: "customer", Source: "data", Key: "K1"})
	require.NoError(t, err)
	got, ok := doc.Get(document.Path{"name"})
	require.True(t, ok)
	assert.Equal(t, "Alice", got)
}

func TestHTTPDataSourceUpdateSendsDocument(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ds := &HTTPDataSource{Entity: "customer", Source: "data", BaseURL: srv.URL}
	fk := model.ForeignKey{Entity: "customer", Source: "data", Key: "K1"}
	newFK, err := ds.Update(t.Context(), fk, document.Empty().Set(document.Path{"name"}, "Alicia"))
	require.NoError(t, err)
	assert.Equal(t, fk, newFK)
	assert.Equal(t, "/K1", gotPath)
}

func TestHTTPDataSourceDeleteNonSuccessIsDataSourceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ds := &HTTPDataSource{Entity: "customer", Source: "data", BaseURL: srv.URL}
	err := ds.Delete(t.Context(), model.ForeignKey{Entity: "customer", Source: "data", Key: "K1"})
	require.Error(t, err)
}
