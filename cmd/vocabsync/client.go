package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/config"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/database"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/localstore"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/logging"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/merge"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/remotestore"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/syncer"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/watch"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type syncClient struct {
	userID        vocabulary.UserID
	authenticated bool
	local         localstore.Store
	orchestrator  *syncer.Orchestrator
	logger        *zap.Logger
	close         func()
}

func openSyncClient() (*syncClient, error) {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, err
	}
	userID, err := vocabulary.NewUserID(clientConfig.UserID)
	if err != nil {
		return nil, err
	}
	policy, err := merge.PolicyByName(clientConfig.Policy)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(logging.Options{Level: clientConfig.LogLevel, File: clientConfig.LogFile})
	if err != nil {
		return nil, err
	}

	db, err := database.OpenDevice(clientConfig.LocalPath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	local, err := localstore.NewSQLiteStore(localstore.SQLiteStoreConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}
	remote, err := remotestore.NewHTTPStore(remotestore.HTTPStoreConfig{
		BaseURL: clientConfig.RemoteURL,
		Token:   clientConfig.Token,
		Timeout: clientConfig.Timeout,
	})
	if err != nil {
		return nil, err
	}
	orchestrator, err := syncer.New(syncer.Config{
		Local:     local,
		Remote:    remote,
		Policy:    policy,
		PushDelay: clientConfig.PushDelay,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &syncClient{
		userID:        userID,
		authenticated: clientConfig.Token != "",
		local:         local,
		orchestrator:  orchestrator,
		logger:        logger,
		close: func() {
			orchestrator.Close()
			_ = sqlDB.Close()
			_ = logger.Sync()
		},
	}, nil
}

func newPullCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Merge the cloud document into the device store and upload the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openSyncClient()
			if err != nil {
				return err
			}
			defer client.close()
			snapshot, err := client.orchestrator.PullAndMerge(cmd.Context(), client.userID)
			if err != nil {
				return err
			}
			return printSummary(cmd, snapshot)
		},
	}
}

func newPushCommand() *cobra.Command {
	var librariesFile string
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload the device store to the cloud without merging",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openSyncClient()
			if err != nil {
				return err
			}
			defer client.close()
			ctx := cmd.Context()
			if librariesFile != "" {
				libraries, err := watch.ReadLibraries(librariesFile)
				if err != nil {
					return err
				}
				if err := client.orchestrator.OnLocalChange(ctx, client.userID, libraries, false); err != nil {
					return err
				}
			}
			snapshot, err := client.orchestrator.PushAll(ctx, client.userID)
			if err != nil {
				return err
			}
			return printSummary(cmd, snapshot)
		},
	}
	cmd.Flags().StringVar(&librariesFile, "libraries", "", "Replace the device libraries with this JSON file before pushing")
	return cmd
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <libraries.json>",
		Short: "Sync once, then push every edit of a libraries file after a quiet period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openSyncClient()
			if err != nil {
				return err
			}
			defer client.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := pullIntoFile(ctx, client.orchestrator, client.userID, args[0]); err != nil {
				client.logger.Warn("initial sync failed", zap.Error(err))
			}
			err = watch.Run(ctx, watch.Config{Path: args[0], Logger: client.logger}, func(ctx context.Context, libraries []vocabulary.Library) error {
				return client.orchestrator.OnLocalChange(ctx, client.userID, libraries, true)
			})
			client.orchestrator.Flush(client.userID)
			return err
		},
	}
}

// pullIntoFile merges the cloud document into the device store and rewrites the watched
// file with the merged libraries. Edits saved to the file afterwards replace the device
// libraries wholesale, so the file must already hold what other devices contributed.
func pullIntoFile(ctx context.Context, orchestrator *syncer.Orchestrator, userID vocabulary.UserID, path string) error {
	snapshot, err := orchestrator.PullAndMerge(ctx, userID)
	if err != nil {
		return err
	}
	return watch.WriteLibraries(path, snapshot.Libraries)
}

type syncSummary struct {
	Libraries  int   `json:"libraries"`
	Tombstones int   `json:"tombstones"`
	Progress   bool  `json:"practiceProgress"`
	UpdatedAt  int64 `json:"updatedAt"`
}

func printSummary(cmd *cobra.Command, snapshot vocabulary.Snapshot) error {
	summary := syncSummary{
		Libraries:  len(snapshot.Libraries),
		Tombstones: len(snapshot.DeletedLibraryIDs),
		Progress:   snapshot.PracticeProgress != nil,
		UpdatedAt:  snapshot.UpdatedAt,
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	if err := encoder.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

