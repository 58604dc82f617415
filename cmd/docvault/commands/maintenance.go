package commands

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/docvaulthq/docvault/storage"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Show the remaining GitHub API quota",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := buildStore(cmd)
		if err != nil {
			return err
		}

		gh, ok := store.(*storage.GithubDocumentStorage)
		if !ok {
			return fmt.Errorf("rate limits only apply to the GitHub backend")
		}

		status, err := gh.RateLimit(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "limit: %d\nremaining: %d\nreset: %s\n",
			status.Limit, status.Remaining, status.Reset.Format(time.RFC3339))
		return nil
	},
}

var migrateMessage string

var migrateCmd = &cobra.Command{
	Use:   "migrate <local-dir>",
	Short: "Copy documents from a local directory into the configured store",
	Long: `migrate walks a local directory tree and uploads every .json file into
the configured store, overwriting existing documents at their current
version. Paths are preserved relative to the directory root.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := buildStore(cmd)
		if err != nil {
			return err
		}
		if !store.Writable() {
			return storage.ErrWriteDisabled
		}

		localFs := afero.NewOsFs()
		root := filepath.Clean(args[0])

		migrated := 0
		failed := 0
		err = afero.Walk(localFs, root, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !strings.HasSuffix(path, ".json") {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			docPath := filepath.ToSlash(rel)

			data, err := afero.ReadFile(localFs, path)
			if err != nil {
				return err
			}
			var doc storage.Document
			if err := json.Unmarshal(data, &doc); err != nil {
				slog.Warn("Skipping unparseable document", "path", docPath, "error", err)
				failed++
				return nil
			}

			_, version, err := store.GetDocument(cmd.Context(), docPath)
			if err != nil {
				return fmt.Errorf("failed to read %s from store: %w", docPath, err)
			}
			if _, err := store.PutDocument(cmd.Context(), docPath, doc, migrateMessage, version); err != nil {
				return fmt.Errorf("failed to migrate %s: %w", docPath, err)
			}

			slog.Info("Migrated document", "path", docPath)
			migrated++
			return nil
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "migrated %d documents, skipped %d\n", migrated, failed)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [dir]",
	Short: "Scan stored documents and report unreadable ones",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := buildStore(cmd)
		if err != nil {
			return err
		}

		lister, ok := store.(storage.DocumentLister)
		if !ok {
			return fmt.Errorf("configured store does not support listing documents")
		}

		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}

		paths, err := lister.ListDocuments(cmd.Context(), dir)
		if err != nil {
			return err
		}

		broken := 0
		for _, path := range paths {
			doc, version, err := store.GetDocument(cmd.Context(), path)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "BROKEN  %s: %v\n", path, err)
				broken++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK      %s (%d keys, version %s)\n", path, len(doc), version)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "checked %d documents, %d broken\n", len(paths), broken)
		if broken > 0 {
			return fmt.Errorf("%d documents failed to parse", broken)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVarP(&migrateMessage, "message", "m", "Migrate local database", "commit message")
	rootCmd.AddCommand(ratelimitCmd, migrateCmd, checkCmd)
}
