package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v61/github"
	"github.com/samber/lo"

	"github.com/docvaulthq/docvault/http_utils"
)

const (
	// DefaultBranch is the dedicated database branch documents live on.
	DefaultBranch = "db-live"

	// metadataPath is the seed document written when the branch is first
	// provisioned.
	metadataPath = "db/metadata.json"
)

// GithubDocumentStorage stores documents as files in a branch of a GitHub
// repository via the contents API. File blob SHAs double as version tokens,
// so the API's own SHA precondition provides the compare-and-swap.
//
// The branch is provisioned lazily from the repository's default-branch tip
// on the first write. Reads against a missing branch simply report absent
// documents.
type GithubDocumentStorage struct {
	Client       *github.Client
	Owner        string
	RepoName     string
	Branch       string
	WriteAllowed bool
	Codec        ContentCodec

	branchMu    sync.Mutex
	branchReady bool
}

// NewGithubDocumentStorage builds a store talking to github.com. The HTTP
// client retries transient failures and rate limiting below the API client.
func NewGithubDocumentStorage(token string, owner string, repoName string, branch string, writeAllowed bool) *GithubDocumentStorage {
	httpClient := &http.Client{Transport: http_utils.NewRetryingTransport(nil)}
	client := github.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if branch == "" {
		branch = DefaultBranch
	}
	return &GithubDocumentStorage{
		Client:       client,
		Owner:        owner,
		RepoName:     repoName,
		Branch:       branch,
		WriteAllowed: writeAllowed,
	}
}

func (s *GithubDocumentStorage) Writable() bool {
	return s.WriteAllowed
}

func (s *GithubDocumentStorage) codec() ContentCodec {
	if s.Codec != nil {
		return s.Codec
	}
	return PassthroughCodec()
}

func (s *GithubDocumentStorage) GetDocument(ctx context.Context, path string) (Document, string, error) {
	file, _, _, err := s.Client.Repositories.GetContents(ctx, s.Owner, s.RepoName, path, &github.RepositoryContentGetOptions{
		Ref: s.Branch,
	})
	if err != nil {
		if apiStatus(err) == http.StatusNotFound {
			return Document{}, "", nil
		}
		return nil, "", mapGithubError("get "+path, err)
	}
	if file == nil {
		return nil, "", fmt.Errorf("get %s: path is a directory, not a document", path)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, "", fmt.Errorf("get %s: failed to decode content: %w", path, err)
	}
	raw, err := s.codec().Decode([]byte(content))
	if err != nil {
		return nil, "", fmt.Errorf("get %s: codec decode failed: %w", path, err)
	}
	doc, err := unmarshalDocument(raw)
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", path, err)
	}
	return doc, file.GetSHA(), nil
}

func (s *GithubDocumentStorage) PutDocument(ctx context.Context, path string, doc Document, message string, expectedVersion string) (string, error) {
	if !s.WriteAllowed {
		return "", fmt.Errorf("put %s: %w", path, ErrWriteDisabled)
	}

	if err := s.ensureBranch(ctx); err != nil {
		// The branch may exist anyway, e.g. when the token lacks the ref
		// scopes but can write contents. Let the write itself decide.
		slog.Warn("Branch provisioning failed, attempting write anyway",
			"branch", s.Branch,
			"error", err)
	}

	return s.putContents(ctx, path, doc, message, expectedVersion)
}

// putContents performs the contents-API write without touching branch
// provisioning, so the branch seed can reuse it.
func (s *GithubDocumentStorage) putContents(ctx context.Context, path string, doc Document, message string, expectedVersion string) (string, error) {
	payload, err := marshalDocument(doc)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	encoded, err := s.codec().Encode(payload)
	if err != nil {
		return "", fmt.Errorf("put %s: codec encode failed: %w", path, err)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: encoded,
		Branch:  github.String(s.Branch),
	}

	var response *github.RepositoryContentResponse
	if expectedVersion != "" {
		opts.SHA = github.String(expectedVersion)
		response, _, err = s.Client.Repositories.UpdateFile(ctx, s.Owner, s.RepoName, path, opts)
	} else {
		response, _, err = s.Client.Repositories.CreateFile(ctx, s.Owner, s.RepoName, path, opts)
	}
	if err != nil {
		return "", mapGithubError("put "+path, err)
	}
	if response == nil || response.Content == nil {
		return "", fmt.Errorf("put %s: response carried no content", path)
	}

	slog.Debug("Document stored",
		"owner", s.Owner,
		"repo", s.RepoName,
		"branch", s.Branch,
		"path", path,
		"sha", response.Content.GetSHA())
	return response.Content.GetSHA(), nil
}

// ensureBranch creates the database branch from the default-branch tip on
// first use and seeds it with a metadata document.
func (s *GithubDocumentStorage) ensureBranch(ctx context.Context) error {
	s.branchMu.Lock()
	defer s.branchMu.Unlock()
	if s.branchReady {
		return nil
	}

	_, _, err := s.Client.Git.GetRef(ctx, s.Owner, s.RepoName, "heads/"+s.Branch)
	if err == nil {
		s.branchReady = true
		return nil
	}
	if apiStatus(err) != http.StatusNotFound {
		return mapGithubError("check branch "+s.Branch, err)
	}

	slog.Info("Database branch missing, creating it",
		"owner", s.Owner,
		"repo", s.RepoName,
		"branch", s.Branch)

	repoInfo, _, err := s.Client.Repositories.Get(ctx, s.Owner, s.RepoName)
	if err != nil {
		return mapGithubError("get repository info", err)
	}
	defaultBranch := repoInfo.GetDefaultBranch()

	baseRef, _, err := s.Client.Git.GetRef(ctx, s.Owner, s.RepoName, "heads/"+defaultBranch)
	if err != nil {
		return mapGithubError("get default branch "+defaultBranch, err)
	}

	_, _, err = s.Client.Git.CreateRef(ctx, s.Owner, s.RepoName, &github.Reference{
		Ref:    github.String("refs/heads/" + s.Branch),
		Object: &github.GitObject{SHA: baseRef.Object.SHA},
	})
	if err != nil && apiStatus(err) != http.StatusUnprocessableEntity {
		// 422 means another writer created the ref first, which is fine.
		return mapGithubError("create branch "+s.Branch, err)
	}
	s.branchReady = true

	seed := Document{
		"created_at":  time.Now().Unix(),
		"version":     "1.0",
		"description": "docvault database branch",
	}
	if _, seedErr := s.putContents(ctx, metadataPath, seed, "Initialize "+s.Branch+" database branch", ""); seedErr != nil && !errors.Is(seedErr, ErrConflict) {
		slog.Warn("Failed to seed database branch metadata",
			"branch", s.Branch,
			"error", seedErr)
	}

	slog.Info("Database branch created", "branch", s.Branch, "base", defaultBranch)
	return nil
}

// ListDocuments returns the paths of JSON documents directly under dir on
// the database branch.
func (s *GithubDocumentStorage) ListDocuments(ctx context.Context, dir string) ([]string, error) {
	_, entries, _, err := s.Client.Repositories.GetContents(ctx, s.Owner, s.RepoName, dir, &github.RepositoryContentGetOptions{
		Ref: s.Branch,
	})
	if err != nil {
		if apiStatus(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, mapGithubError("list "+dir, err)
	}

	paths := lo.FilterMap(entries, func(entry *github.RepositoryContent, _ int) (string, bool) {
		if entry.GetType() != "file" || !strings.HasSuffix(entry.GetName(), ".json") {
			return "", false
		}
		return entry.GetPath(), true
	})
	return paths, nil
}

// RateLimitStatus reports the core API quota for the authenticated client.
type RateLimitStatus struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

func (s *GithubDocumentStorage) RateLimit(ctx context.Context) (*RateLimitStatus, error) {
	limits, _, err := s.Client.RateLimit.Get(ctx)
	if err != nil {
		return nil, mapGithubError("rate limit status", err)
	}
	core := limits.GetCore()
	if core == nil {
		return nil, fmt.Errorf("rate limit status: response carried no core resource")
	}
	return &RateLimitStatus{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Reset:     core.Reset.Time,
	}, nil
}

func apiStatus(err error) int {
	var apiErr *github.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return apiErr.Response.StatusCode
	}
	return 0
}

// mapGithubError translates go-github failures into the store's error kinds.
func mapGithubError(op string, err error) error {
	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrRateLimited, err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrRateLimited, err)
	}

	var apiErr *github.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		status := apiErr.Response.StatusCode
		switch {
		case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, apiErr.Message)
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return fmt.Errorf("%s: %w: %s", op, ErrPermissionDenied, apiErr.Message)
		case status >= 500:
			return fmt.Errorf("%s: %w: status %d: %s", op, ErrTransport, status, apiErr.Message)
		default:
			return fmt.Errorf("%s: unexpected status %d: %s", op, status, apiErr.Message)
		}
	}

	return fmt.Errorf("%s: %w: %v", op, ErrTransport, err)
}
