package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/docvaulthq/docvault/storage"
)

var (
	putMessage string
	putVersion string

	updateMessage    string
	updateStrategy   string
	updateMaxRetries int
)

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Read a document and its version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := buildStore(cmd)
		if err != nil {
			return err
		}

		doc, version, err := store.GetDocument(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		output, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(output))
		if version != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "version: %s\n", version)
		} else {
			fmt.Fprintln(cmd.ErrOrStderr(), "document does not exist")
		}
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <path> [json]",
	Short: "Write a document (reads stdin when json is omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := buildStore(cmd)
		if err != nil {
			return err
		}

		doc, err := readDocumentArg(cmd, args)
		if err != nil {
			return err
		}

		version, err := store.PutDocument(cmd.Context(), args[0], doc, putMessage, putVersion)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), version)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <path> [json-patch]",
	Short: "Safely merge a JSON patch into a document",
	Long: `update runs a read-modify-write loop with conflict resolution: the patch
keys are applied on top of the current document, and concurrent writers are
handled by the selected merge strategy.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := buildStore(cmd)
		if err != nil {
			return err
		}

		patch, err := readDocumentArg(cmd, args)
		if err != nil {
			return err
		}

		version, err := storage.SafeUpdateWithOptions(cmd.Context(), store, args[0],
			func(doc storage.Document) storage.Document {
				for key, value := range patch {
					doc[key] = value
				}
				return doc
			},
			updateMessage,
			storage.SafeUpdateOptions{
				MaxRetries: updateMaxRetries,
				Strategy:   storage.MergeStrategy(updateStrategy),
			})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), version)
		return nil
	},
}

func readDocumentArg(cmd *cobra.Command, args []string) (storage.Document, error) {
	var raw []byte
	var err error
	if len(args) > 1 {
		raw = []byte(args[1])
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read document from stdin: %w", err)
		}
	}

	var doc storage.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON document: %w", err)
	}
	return doc, nil
}

func init() {
	putCmd.Flags().StringVarP(&putMessage, "message", "m", "docvault put", "commit message")
	putCmd.Flags().StringVar(&putVersion, "version", "", "expected version (empty = create only)")

	updateCmd.Flags().StringVarP(&updateMessage, "message", "m", "docvault update", "commit message")
	updateCmd.Flags().StringVar(&updateStrategy, "strategy", string(storage.MergeStrategyDeepMerge),
		"conflict strategy: deep_merge, latest_wins or incoming_wins")
	updateCmd.Flags().IntVar(&updateMaxRetries, "max-retries", storage.DefaultMaxRetries, "conflict retry budget")

	rootCmd.AddCommand(getCmd, putCmd, updateCmd)
}
