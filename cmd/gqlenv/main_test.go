package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	*httptest.Server
	hits atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		var body struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(body.Query, "me {"):
			if r.Header.Get("Authorization") == "Bearer t1" {
				_, _ = w.Write([]byte(`{"data":{"me":{"id":"u1","email":"ada@example.com"}}}`))
				return
			}
			_, _ = w.Write([]byte(`{"data":{"me":null}}`))
		case strings.Contains(body.Query, "viewer"):
			_, _ = w.Write([]byte(`{"data":{"viewer":{"id":"v1","name":"Ada"}}}`))
		default:
			_, _ = w.Write([]byte(`{"errors":[{"message":"unknown field"}]}`))
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("GQLENV_TOKEN", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWhoamiAnonymous(t *testing.T) {
	api := newFakeAPI(t)
	out, err := runCmd(t, "--endpoint", api.URL, "whoami")
	require.NoError(t, err)
	require.Equal(t, "not authenticated\n", out)
}

func TestWhoamiWithToken(t *testing.T) {
	api := newFakeAPI(t)
	out, err := runCmd(t, "--endpoint", api.URL, "--token", "t1", "whoami")
	require.NoError(t, err)
	require.Equal(t, "authenticated as u1 (ada@example.com)\n", out)
}

func TestWhoamiUnreachable(t *testing.T) {
	api := newFakeAPI(t)
	url := api.URL
	api.Close()
	out, err := runCmd(t, "--endpoint", url, "whoami")
	require.NoError(t, err)
	require.Equal(t, "not authenticated\n", out)
}

func TestQueryServedFromStoreOnRepeat(t *testing.T) {
	api := newFakeAPI(t)
	out, err := runCmd(t, "--endpoint", api.URL, "query", "{ viewer { id name } }", "--repeat", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, l := range lines {
		require.JSONEq(t, `{"data":{"viewer":{"id":"v1","name":"Ada"}}}`, l)
	}
	// identity query plus a single viewer request
	require.EqualValues(t, 2, api.hits.Load())
}

func TestQueryRefetch(t *testing.T) {
	api := newFakeAPI(t)
	_, err := runCmd(t, "--endpoint", api.URL, "query", "{ viewer { id name } }", "--repeat", "2", "--refetch")
	require.NoError(t, err)
	require.EqualValues(t, 3, api.hits.Load())
}

func TestQueryGraphQLErrors(t *testing.T) {
	api := newFakeAPI(t)
	out, err := runCmd(t, "--endpoint", api.URL, "query", "{ nothing }")
	require.NoError(t, err)
	require.Contains(t, out, `"unknown field"`)
}

func TestQueryFromFileWithVariables(t *testing.T) {
	api := newFakeAPI(t)
	path := filepath.Join(t.TempDir(), "viewer.graphql")
	require.NoError(t, os.WriteFile(path, []byte(`query Viewer($x: Int) { viewer { id } }`), 0o600))

	out, err := runCmd(t, "--endpoint", api.URL, "query", "@"+path, "--vars", `{"x":1}`, "--operation", "Viewer")
	require.NoError(t, err)
	require.JSONEq(t, `{"data":{"viewer":{"id":"v1"}}}`, strings.TrimSpace(out))
}

func TestQueryInvalidVariables(t *testing.T) {
	_, err := runCmd(t, "query", "{ viewer { id } }", "--vars", "not json")
	require.ErrorContains(t, err, "invalid --vars JSON")
}

func TestInvalidEndpoint(t *testing.T) {
	_, err := runCmd(t, "--endpoint", "not a url", "whoami")
	require.Error(t, err)
}

func TestLogout(t *testing.T) {
	api := newFakeAPI(t)
	out, err := runCmd(t, "--endpoint", api.URL, "--token", "t1", "logout")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "authenticated -> unauthenticated"), out)
}

func TestConfigFile(t *testing.T) {
	api := newFakeAPI(t)
	path := filepath.Join(t.TempDir(), "gqlenv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: "+api.URL+"\ntoken: t1\n"), 0o600))

	out, err := runCmd(t, "--config", path, "whoami")
	require.NoError(t, err)
	require.Equal(t, "authenticated as u1 (ada@example.com)\n", out)
}
