package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v61/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGithubStorage(t *testing.T, handler http.Handler, writeAllowed bool) *GithubDocumentStorage {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := github.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = baseURL

	return &GithubDocumentStorage{
		Client:       client,
		Owner:        "acme",
		RepoName:     "state",
		Branch:       "db-live",
		WriteAllowed: writeAllowed,
	}
}

func contentsResponse(path string, sha string, doc Document) []byte {
	raw, _ := json.MarshalIndent(doc, "", "  ")
	body, _ := json.Marshal(map[string]interface{}{
		"type":     "file",
		"name":     path,
		"path":     path,
		"sha":      sha,
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString(raw),
	})
	return body
}

func TestGithubGetDocument(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/state/contents/db/settings.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "db-live", r.URL.Query().Get("ref"))
		w.Write(contentsResponse("db/settings.json", "abc123", Document{"theme": "dark"}))
	})
	store := newTestGithubStorage(t, mux, false)

	doc, version, err := store.GetDocument(context.Background(), "db/settings.json")

	require.NoError(t, err)
	assert.Equal(t, Document{"theme": "dark"}, doc)
	assert.Equal(t, "abc123", version)
}

func TestGithubGetMissingReturnsEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	store := newTestGithubStorage(t, mux, false)

	doc, version, err := store.GetDocument(context.Background(), "db/missing.json")

	require.NoError(t, err)
	assert.Empty(t, doc)
	assert.Empty(t, version)
}

func TestGithubPutUpdateSendsSHA(t *testing.T) {
	var payload struct {
		Message string `json:"message"`
		Content string `json:"content"`
		Branch  string `json:"branch"`
		SHA     string `json:"sha"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /repos/acme/state/contents/db/settings.json", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		fmt.Fprint(w, `{"content":{"sha":"def456"}}`)
	})
	store := newTestGithubStorage(t, mux, true)
	store.branchReady = true

	version, err := store.PutDocument(context.Background(), "db/settings.json", Document{"theme": "light"}, "update theme", "abc123")

	require.NoError(t, err)
	assert.Equal(t, "def456", version)
	assert.Equal(t, "update theme", payload.Message)
	assert.Equal(t, "db-live", payload.Branch)
	assert.Equal(t, "abc123", payload.SHA)

	raw, err := base64.StdEncoding.DecodeString(payload.Content)
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"light"}`, string(raw))
}

func TestGithubPutConflict(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /repos/acme/state/contents/db/settings.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"message":"is at a different sha"}`)
	})
	store := newTestGithubStorage(t, mux, true)
	store.branchReady = true

	_, err := store.PutDocument(context.Background(), "db/settings.json", Document{}, "msg", "stale")

	assert.ErrorIs(t, err, ErrConflict)
}

func TestGithubPutWriteGating(t *testing.T) {
	requests := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { requests++ })
	store := newTestGithubStorage(t, mux, false)

	_, err := store.PutDocument(context.Background(), "db/settings.json", Document{}, "msg", "")

	assert.ErrorIs(t, err, ErrWriteDisabled)
	assert.Zero(t, requests, "write gating must not touch the network")
}

func TestGithubPermissionDenied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"Resource not accessible by integration"}`)
	})
	store := newTestGithubStorage(t, mux, false)

	_, _, err := store.GetDocument(context.Background(), "db/settings.json")

	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestGithubTransportErrorOnServerFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"message":"upstream sad"}`)
	})
	store := newTestGithubStorage(t, mux, false)

	_, _, err := store.GetDocument(context.Background(), "db/settings.json")

	assert.ErrorIs(t, err, ErrTransport)
}

func TestGithubLazyBranchProvisioning(t *testing.T) {
	var createdRef struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	seeded := false
	putTarget := false

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/state/git/ref/heads/db-live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	mux.HandleFunc("GET /repos/acme/state", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"default_branch":"main"}`)
	})
	mux.HandleFunc("GET /repos/acme/state/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ref":"refs/heads/main","object":{"sha":"base000"}}`)
	})
	mux.HandleFunc("POST /repos/acme/state/git/refs", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &createdRef))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"ref":%q,"object":{"sha":%q}}`, createdRef.Ref, createdRef.SHA)
	})
	mux.HandleFunc("PUT /repos/acme/state/contents/db/metadata.json", func(w http.ResponseWriter, r *http.Request) {
		seeded = true
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"content":{"sha":"meta01"}}`)
	})
	mux.HandleFunc("PUT /repos/acme/state/contents/db/users.json", func(w http.ResponseWriter, r *http.Request) {
		putTarget = true
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"content":{"sha":"users01"}}`)
	})
	store := newTestGithubStorage(t, mux, true)

	version, err := store.PutDocument(context.Background(), "db/users.json", Document{"users": Document{}}, "init users", "")

	require.NoError(t, err)
	assert.Equal(t, "users01", version)
	assert.Equal(t, "refs/heads/db-live", createdRef.Ref)
	assert.Equal(t, "base000", createdRef.SHA)
	assert.True(t, seeded, "branch creation must seed the metadata document")
	assert.True(t, putTarget)
	assert.True(t, store.branchReady)
}

func TestGithubBranchCheckedOncePerInstance(t *testing.T) {
	refChecks := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/state/git/ref/heads/db-live", func(w http.ResponseWriter, r *http.Request) {
		refChecks++
		fmt.Fprint(w, `{"ref":"refs/heads/db-live","object":{"sha":"tip"}}`)
	})
	mux.HandleFunc("PUT /repos/acme/state/contents/a.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"content":{"sha":"a1"}}`)
	})
	mux.HandleFunc("PUT /repos/acme/state/contents/b.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"content":{"sha":"b1"}}`)
	})
	store := newTestGithubStorage(t, mux, true)

	_, err := store.PutDocument(context.Background(), "a.json", Document{}, "a", "")
	require.NoError(t, err)
	_, err = store.PutDocument(context.Background(), "b.json", Document{}, "b", "")
	require.NoError(t, err)

	assert.Equal(t, 1, refChecks)
}

func TestGithubListDocuments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/state/contents/db", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"type":"file","name":"users.json","path":"db/users.json","sha":"u1"},
			{"type":"file","name":"notes.txt","path":"db/notes.txt","sha":"n1"},
			{"type":"dir","name":"nested","path":"db/nested","sha":"d1"}
		]`)
	})
	store := newTestGithubStorage(t, mux, false)

	paths, err := store.ListDocuments(context.Background(), "db")

	require.NoError(t, err)
	assert.Equal(t, []string{"db/users.json"}, paths)
}

func TestGithubRateLimitStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rate_limit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"resources":{"core":{"limit":5000,"remaining":4987,"reset":1735689600}}}`)
	})
	store := newTestGithubStorage(t, mux, false)

	status, err := store.RateLimit(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5000, status.Limit)
	assert.Equal(t, 4987, status.Remaining)
	assert.Equal(t, int64(1735689600), status.Reset.Unix())
}
