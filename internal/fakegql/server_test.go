package fakegql

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/gqlcache.go/pkg/connection"
)

func post(t *testing.T, url string, req connection.Request) (*http.Response, []byte) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestServer(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	server.AddStubResponse(SimpleStubResponse("Viewer", map[string]any{
		"viewer": map[string]any{"id": "u1", "name": "Ada"},
	}))

	require.NoError(t, server.Start())
	defer func() {
		require.NoError(t, server.Stop())
	}()
	assert.NotEmpty(t, server.Address())

	resp, data := post(t, server.URL(), connection.Request{Query: "query Viewer { viewer { id name } }", OperationName: "Viewer"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var res connection.Response
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, map[string]any{"id": "u1", "name": "Ada"}, res.Data["viewer"])
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, server.RequestCount("Viewer"))
}

func TestServerWithoutStub(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())
	defer server.Stop()

	_, data := post(t, server.URL(), connection.Request{Query: "{ a }", OperationName: "Unknown"})

	var res connection.Response
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Nil(t, res.Data)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, `"Unknown"`)
}

func TestStubMatcher(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	server.AddStubResponse(StubResponse{
		Matcher: RequestMatcher{
			OperationName: "Artist",
			Matcher:       func(vars map[string]any) bool { return vars["id"] == "a2" },
		},
		Data: map[string]any{"artist": map[string]any{"id": "a2"}},
	})
	server.AddStubResponse(SimpleStubResponse("Artist", map[string]any{"artist": map[string]any{"id": "a1"}}))
	require.NoError(t, server.Start())
	defer server.Stop()

	_, data := post(t, server.URL(), connection.Request{OperationName: "Artist", Variables: map[string]any{"id": "a2"}})
	var res connection.Response
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, "a2", res.Data["artist"].(map[string]any)["id"])

	_, data = post(t, server.URL(), connection.Request{OperationName: "Artist", Variables: map[string]any{"id": "a9"}})
	res = connection.Response{}
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, "a1", res.Data["artist"].(map[string]any)["id"])
}

func TestFailureInjection(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	server.AddStubResponse(StubResponse{
		Matcher: RequestMatcher{OperationName: "Flaky"},
		Data:    map[string]any{"ok": true},
		Failures: []FailureConfig{
			{Type: FailureStatus, Probability: 1, StatusCode: http.StatusServiceUnavailable, Times: 1},
		},
	})
	require.NoError(t, server.Start())
	defer server.Stop()

	resp, _ := post(t, server.URL(), connection.Request{OperationName: "Flaky"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = post(t, server.URL(), connection.Request{OperationName: "Flaky"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, server.RequestCount("Flaky"))
}

func TestRequestDelay(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	server.AddStubResponse(SimpleStubResponse("Slow", map[string]any{"ok": true}))
	server.SetGlobalFailures([]FailureConfig{
		{Type: FailureRequestDelay, Probability: 1, MinDelay: 50 * time.Millisecond},
	})
	require.NoError(t, server.Start())
	defer server.Stop()

	start := time.Now()
	resp, _ := post(t, server.URL(), connection.Request{OperationName: "Slow"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestReset(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	server.AddStubResponse(SimpleStubResponse("A", map[string]any{"a": 1}))
	require.NoError(t, server.Start())
	defer server.Stop()

	post(t, server.URL(), connection.Request{OperationName: "A"})
	require.Len(t, server.Requests(), 1)

	server.Reset()
	assert.Empty(t, server.Requests())
	_, data := post(t, server.URL(), connection.Request{OperationName: "A"})
	assert.Contains(t, string(data), "no stub")
}
