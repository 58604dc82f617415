package storage

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/google/go-github/v61/github"
	"github.com/spf13/afero"

	"github.com/docvaulthq/docvault/http_utils"
)

// Config carries backend construction options. Owner and Repo select the
// GitHub backend; with either missing the local backend under BasePath is
// used instead, which is also the natural failover target when the remote
// store is misconfigured or unreachable.
type Config struct {
	Owner        string `env:"DB_GITHUB_OWNER" yaml:"owner"`
	Repo         string `env:"DB_GITHUB_REPO" yaml:"repo"`
	Token        string `env:"GITHUB_TOKEN" yaml:"token"`
	Branch       string `env:"DB_GITHUB_BRANCH" envDefault:"db-live" yaml:"branch"`
	WriteAllowed bool   `env:"DB_WRITE_ALLOWED" envDefault:"false" yaml:"write_allowed"`
	BasePath     string `env:"DB_LOCAL_PATH" envDefault:".docvault" yaml:"base_path"`

	// APIBaseURL points the GitHub backend at an enterprise or test
	// deployment. Empty means github.com.
	APIBaseURL string `env:"DB_GITHUB_API_URL" yaml:"api_base_url"`
}

// LoadConfig reads backend configuration from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse store configuration: %w", err)
	}
	return &cfg, nil
}

// NewDocumentStore builds the backend the configuration selects.
func NewDocumentStore(cfg *Config) (DocumentStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store configuration is required")
	}

	if cfg.Owner == "" || cfg.Repo == "" {
		slog.Info("Using local document store", "basePath", cfg.BasePath)
		return NewLocalDocumentStorage(afero.NewOsFs(), cfg.BasePath, cfg.WriteAllowed, nil), nil
	}

	store := NewGithubDocumentStorage(cfg.Token, cfg.Owner, cfg.Repo, cfg.Branch, cfg.WriteAllowed)
	if cfg.APIBaseURL != "" {
		baseURL := cfg.APIBaseURL
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		client := github.NewClient(&http.Client{Transport: http_utils.NewRetryingTransport(nil)})
		client, err := client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid API base URL %q: %w", cfg.APIBaseURL, err)
		}
		if cfg.Token != "" {
			client = client.WithAuthToken(cfg.Token)
		}
		store.Client = client
	}
	slog.Info("Using GitHub document store",
		"owner", cfg.Owner,
		"repo", cfg.Repo,
		"branch", store.Branch,
		"writeAllowed", cfg.WriteAllowed)
	return store, nil
}
