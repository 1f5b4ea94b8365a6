package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <libraries.json>",
		Short: "Add libraries from a JSON file to the device store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			incoming, err := watch.ReadLibraries(args[0])
			if err != nil {
				return err
			}
			client, err := openSyncClient()
			if err != nil {
				return err
			}
			defer client.close()

			tombstones, err := client.local.DeletedLibraryIDs(cmd.Context())
			if err != nil {
				return err
			}
			return client.editLibraries(cmd, func(libraries []vocabulary.Library) ([]vocabulary.Library, int) {
				return importLibraries(client.logger, libraries, tombstones, incoming, time.Now())
			})
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <library-id>",
		Short: "Delete a library on this device and propagate the deletion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openSyncClient()
			if err != nil {
				return err
			}
			defer client.close()

			removed, err := client.orchestrator.DeleteLibrary(cmd.Context(), client.userID, args[0], client.authenticated)
			if err != nil {
				return err
			}
			client.orchestrator.Flush(client.userID)
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s not on this device, deletion recorded\n", args[0])
			}
			return nil
		},
	}
}

func newRecordWrongCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "record-wrong <items.json>",
		Short: "Append items answered incorrectly to the wrong-answer library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contents, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var items []vocabulary.Item
			if err := json.Unmarshal(contents, &items); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			client, err := openSyncClient()
			if err != nil {
				return err
			}
			defer client.close()

			return client.editLibraries(cmd, func(libraries []vocabulary.Library) ([]vocabulary.Library, int) {
				return vocabulary.AppendWrongAnswers(libraries, items, time.Now())
			})
		},
	}
}

// editLibraries applies edit to the device libraries, records the change with the
// orchestrator and pushes it before returning.
func (client *syncClient) editLibraries(cmd *cobra.Command, edit func([]vocabulary.Library) ([]vocabulary.Library, int)) error {
	ctx := cmd.Context()
	libraries, err := client.local.LoadLibraries(ctx)
	if err != nil {
		return err
	}
	edited, changed := edit(libraries)
	if changed == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing changed")
		return nil
	}
	if err := client.orchestrator.OnLocalChange(ctx, client.userID, edited, client.authenticated); err != nil {
		return err
	}
	client.orchestrator.Flush(client.userID)
	fmt.Fprintf(cmd.OutOrStdout(), "%d changed\n", changed)
	return nil
}

// importLibraries appends the incoming libraries that are new to the device. The
// wrong-answer library, known or deleted ids, invalid libraries and names already in
// use are skipped.
func importLibraries(logger *zap.Logger, existing []vocabulary.Library, tombstones []string, incoming []vocabulary.Library, now time.Time) ([]vocabulary.Library, int) {
	result := vocabulary.CloneLibraries(existing)
	knownIDs := make(map[string]struct{}, len(result))
	for _, library := range result {
		knownIDs[library.ID] = struct{}{}
	}
	deleted := make(map[string]struct{}, len(tombstones))
	for _, id := range tombstones {
		deleted[id] = struct{}{}
	}

	imported := 0
	for _, library := range incoming {
		if library.IsWrongAnswerLibrary() {
			continue
		}
		if _, found := knownIDs[library.ID]; found {
			logger.Info("library already present", zap.String("library_id", library.ID))
			continue
		}
		if _, tombstoned := deleted[library.ID]; tombstoned {
			logger.Warn("skipping deleted library; deletions are permanent", zap.String("library_id", library.ID))
			continue
		}
		if err := library.Validate(); err != nil {
			logger.Warn("skipping invalid library", zap.String("library_id", library.ID), zap.Error(err))
			continue
		}
		if vocabulary.NameTaken(result, library.Name) {
			logger.Warn("library name already in use", zap.String("name", library.Name))
			continue
		}
		entry := library.Clone()
		if entry.CreatedAt == 0 {
			entry.CreatedAt = now.UnixMilli()
		}
		result = append(result, entry)
		knownIDs[entry.ID] = struct{}{}
		imported++
	}
	return result, imported
}

