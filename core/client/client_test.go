package client

import (
	"io"
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		response := map[string]interface{}{
			"method": r.Method,
			"header": r.Header.Get("X-Test"),
		}
		if len(body) > 0 {
			var parsed interface{}
			if err := json.Unmarshal(body, &parsed); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			response["body"] = parsed
		}
		data, _ := json.Marshal(response)
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}).Methods(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete)

	router.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte{1, 2, 3})
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			data, _ := json.Marshal(map[string]interface{}{
				"size":         len(body),
				"content-type": r.Header.Get("Content-Type"),
			})
			w.Write(data)
		}
	}).Methods(http.MethodGet, http.MethodPut)

	router.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	})
	return router
}

func TestClientVerbs(t *testing.T) {
	c := NewWithRouter(testRouter())

	var result map[string]interface{}
	status, err := c.RawGet("/echo", &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "GET", result["method"])

	_, err = c.RawPost("/echo", map[string]interface{}{"a": float64(1)}, &result)
	require.NoError(t, err)
	assert.Equal(t, "POST", result["method"])
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, result["body"])

	_, err = c.RawPut("/echo", map[string]interface{}{}, &result)
	require.NoError(t, err)
	assert.Equal(t, "PUT", result["method"])

	_, err = c.RawPatch("/echo", map[string]interface{}{}, &result)
	require.NoError(t, err)
	assert.Equal(t, "PATCH", result["method"])

	_, err = c.RawDelete("/echo", map[string]interface{}{"b": float64(2)}, &result)
	require.NoError(t, err)
	assert.Equal(t, "DELETE", result["method"])
	assert.Equal(t, map[string]interface{}{"b": float64(2)}, result["body"])
}

func TestClientDefaultHeaders(t *testing.T) {
	c := NewWithRouter(testRouter()).WithHeader("X-Test", "hello")

	var result map[string]interface{}
	_, err := c.RawGet("/echo", &result)
	require.NoError(t, err)
	assert.Equal(t, "hello", result["header"])

	// WithHeader does not mutate the original client
	base := NewWithRouter(testRouter())
	derived := base.WithHeader("X-Test", "derived")
	_, err = base.RawGet("/echo", &result)
	require.NoError(t, err)
	assert.Equal(t, "", result["header"])
	_, err = derived.RawGet("/echo", &result)
	require.NoError(t, err)
	assert.Equal(t, "derived", result["header"])
}

func TestClientBlobs(t *testing.T) {
	c := NewWithRouter(testRouter())

	var blob []byte
	status, header, err := c.RawGetBlobWithHeader("/blob", nil, &blob)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []byte{1, 2, 3}, blob)
	assert.Equal(t, "application/octet-stream", header.Get("Content-Type"))

	var result map[string]interface{}
	_, err = c.RawPutBlob("/blob", "image/png", []byte("imagedata"), &result)
	require.NoError(t, err)
	assert.Equal(t, float64(9), result["size"])
	assert.Equal(t, "image/png", result["content-type"])
}

func TestClientErrorStatus(t *testing.T) {
	c := NewWithRouter(testRouter())

	status, err := c.RawGet("/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not here")

	var raw []byte
	status, err = c.RawGet("/echo", &raw)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, raw)
}
