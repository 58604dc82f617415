package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docvaulthq/docvault/http_utils"
	"github.com/docvaulthq/docvault/merge"
)

// MergeStrategy selects how SafeUpdate resolves a write conflict.
type MergeStrategy string

const (
	// MergeStrategyDeepMerge re-reads the document and deep-merges the
	// local candidate onto it, candidate values winning. The default.
	MergeStrategyDeepMerge MergeStrategy = "deep_merge"

	// MergeStrategyLatestWins discards the local candidate and re-runs the
	// modify function against the freshly fetched document.
	MergeStrategyLatestWins MergeStrategy = "latest_wins"

	// MergeStrategyIncomingWins re-runs the modify function against an
	// empty base and overwrites whatever is stored. Explicit reset
	// semantics.
	MergeStrategyIncomingWins MergeStrategy = "incoming_wins"
)

// DefaultMaxRetries bounds SafeUpdate's conflict retry loop.
const DefaultMaxRetries = 5

// ModifyFunc transforms the current document into the desired one. It
// receives a private copy and may mutate it freely. It can be invoked more
// than once per update, so it must be side-effect free.
type ModifyFunc func(Document) Document

// SafeUpdateOptions tune the read-modify-write loop. The zero value means
// deep-merge resolution with DefaultMaxRetries attempts.
type SafeUpdateOptions struct {
	MaxRetries int
	Strategy   MergeStrategy

	// sleep waits between conflict retries; retry is the zero-based retry
	// index. Injectable for tests.
	sleep func(ctx context.Context, retry int) error
}

// SafeUpdate applies modify to the document at path under optimistic
// concurrency control, with default options.
func SafeUpdate(ctx context.Context, store DocumentStore, path string, modify ModifyFunc, message string) (string, error) {
	return SafeUpdateWithOptions(ctx, store, path, modify, message, SafeUpdateOptions{})
}

// SafeUpdateWithOptions runs the read-modify-write loop: read the current
// document and version, apply modify to a copy, write with the read version.
// A conflicting write consumes one attempt and is retried against fresher
// state according to the merge strategy; once the budget is spent the update
// fails with ErrMaxRetriesExceeded. Conflict retries back off exponentially
// with jitter, honoring ctx.
func SafeUpdateWithOptions(ctx context.Context, store DocumentStore, path string, modify ModifyFunc, message string, opts SafeUpdateOptions) (string, error) {
	if !store.Writable() {
		return "", fmt.Errorf("update %s: %w", path, ErrWriteDisabled)
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = MergeStrategyDeepMerge
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = defaultConflictSleep
	}

	var candidate Document
	var version string
	needRead := true

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, attempt-1); err != nil {
				return "", err
			}
		}

		if needRead {
			current, currentVersion, err := store.GetDocument(ctx, path)
			if err != nil {
				return "", err
			}
			candidate = modify(cloneDocument(current))
			version = currentVersion
		}

		newVersion, err := store.PutDocument(ctx, path, candidate, message, version)
		if err == nil {
			return newVersion, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", err
		}

		slog.Debug("Write conflict, resolving",
			"path", path,
			"strategy", string(strategy),
			"attempt", attempt+1)

		switch strategy {
		case MergeStrategyLatestWins:
			needRead = true

		case MergeStrategyIncomingWins:
			_, latestVersion, err := store.GetDocument(ctx, path)
			if err != nil {
				return "", err
			}
			candidate = modify(Document{})
			version = latestVersion
			needRead = false

		default: // MergeStrategyDeepMerge
			latest, latestVersion, err := store.GetDocument(ctx, path)
			if err != nil {
				return "", err
			}
			candidate = merge.Deep(latest, candidate)
			version = latestVersion
			needRead = false
		}
	}

	return "", fmt.Errorf("update %s failed after %d attempts: %w", path, maxRetries, ErrMaxRetriesExceeded)
}

// defaultConflictSleep backs off between conflict retries with the same
// exponential-plus-jitter formula the transport uses, counted independently.
func defaultConflictSleep(ctx context.Context, retry int) error {
	return http_utils.Sleep(ctx, http_utils.Backoff(retry))
}
