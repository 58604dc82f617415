package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/docvaulthq/docvault/storage"
)

var (
	configPath string
	owner      string
	repo       string
	branch     string
	basePath   string
	allowWrite bool
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "docvault",
		Short: "Versioned JSON document store on a git-hosting branch",
		Long: `docvault treats a branch of a GitHub repository (or a local directory)
as a lightweight transactional JSON document database: get/put with
optimistic concurrency, safe read-modify-write updates, and best-effort
advisory locks.

Configuration comes from the environment (DB_GITHUB_OWNER, DB_GITHUB_REPO,
GITHUB_TOKEN, DB_GITHUB_BRANCH, DB_WRITE_ALLOWED, DB_LOCAL_PATH), optionally
overridden by a YAML config file and flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
)

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "", "GitHub repository owner")
	rootCmd.PersistentFlags().StringVar(&repo, "repo", "", "GitHub repository name")
	rootCmd.PersistentFlags().StringVar(&branch, "branch", "", "database branch")
	rootCmd.PersistentFlags().StringVar(&basePath, "base-path", "", "local store base directory")
	rootCmd.PersistentFlags().BoolVar(&allowWrite, "write", false, "allow mutating operations")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig layers environment, optional YAML file, then flags.
func loadConfig(cmd *cobra.Command) (*storage.Config, error) {
	cfg, err := storage.LoadConfig()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if owner != "" {
		cfg.Owner = owner
	}
	if repo != "" {
		cfg.Repo = repo
	}
	if branch != "" {
		cfg.Branch = branch
	}
	if basePath != "" {
		cfg.BasePath = basePath
	}
	if cmd.Flags().Changed("write") {
		cfg.WriteAllowed = allowWrite
	}
	return cfg, nil
}

func buildStore(cmd *cobra.Command) (storage.DocumentStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return storage.NewDocumentStore(cfg)
}
