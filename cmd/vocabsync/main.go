package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vocabsync",
		Short:         "Vocabulary library sync service and client",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newPullCommand(), newPushCommand(), newWatchCommand(), newImportCommand(), newDeleteCommand(), newRecordWrongCommand(), newTokenCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path of the cloud API")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-file", defaults.GetString("log.file"), "Rotating log file (empty logs to stderr only)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("remote-url", defaults.GetString("client.remote_url"), "Base URL of the cloud API")
	flags.String("token", "", "Session token presented to the cloud API")
	flags.String("user-id", defaults.GetString("client.user_id"), "User whose data is synced")
	flags.String("local-path", defaults.GetString("client.local_path"), "SQLite database path of the device store")
	flags.Duration("timeout", defaults.GetDuration("client.timeout"), "Cloud API request timeout")
	flags.Duration("push-delay", defaults.GetDuration("sync.push_delay"), "Quiet period before a debounced push")
	flags.String("policy", defaults.GetString("sync.policy"), "Reconciliation policy (tombstone, union)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "client.remote_url", "remote-url")
	bindFlag(cmd, "client.token", "token")
	bindFlag(cmd, "client.user_id", "user-id")
	bindFlag(cmd, "client.local_path", "local-path")
	bindFlag(cmd, "client.timeout", "timeout")
	bindFlag(cmd, "sync.push_delay", "push-delay")
	bindFlag(cmd, "sync.policy", "policy")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
