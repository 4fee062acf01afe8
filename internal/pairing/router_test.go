package pairing

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRouterStoreThenLookup(t *testing.T) {
	store := NewStore(time.Minute)
	t.Cleanup(store.Close)
	srv := httptest.NewServer(NewRouter(store))
	t.Cleanup(srv.Close)

	body, err := json.Marshal(storeRequest{Code: "654321", Data: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/pairing/store", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "user-hex")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	lookupResp, err := http.Get(srv.URL + "/api/pairing/lookup/654321")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, lookupResp.StatusCode)
	defer lookupResp.Body.Close()

	var out struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(lookupResp.Body).Decode(&out))
	require.True(t, out.Success)
}

func TestRouterLookupMissingReturns404(t *testing.T) {
	store := NewStore(time.Minute)
	t.Cleanup(store.Close)
	srv := httptest.NewServer(NewRouter(store))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/pairing/lookup/999999")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouterStoreMissingUserIDRejected(t *testing.T) {
	store := NewStore(time.Minute)
	t.Cleanup(store.Close)
	srv := httptest.NewServer(NewRouter(store))
	t.Cleanup(srv.Close)

	body, err := json.Marshal(storeRequest{Code: "111111", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/pairing/store", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
