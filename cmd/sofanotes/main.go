package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	plain   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "sofanotes",
		Short:        "Threaded comments on SOFA example scenes",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newExamplesCommand(),
		newListCommand(),
		newAddCommand(),
		newReplyCommand(),
		newEditCommand(),
		newDeleteCommand(),
		newWatchCommand(),
		newOpenCommand(),
		newRecentCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().BoolVar(&plain, "plain", false, "Render without colors")
	cmd.PersistentFlags().String("store-url", defaults.GetString("store.url"), "Comment store URL (empty uses the local database)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path for standalone mode")
	cmd.PersistentFlags().String("user", defaults.GetString("user.name"), "Author name (defaults to the OS login)")
	cmd.PersistentFlags().String("examples-dir", defaults.GetString("sofa.examples_dir"), "Directory holding SOFA example scenes")
	cmd.PersistentFlags().String("sofa-executable", defaults.GetString("sofa.executable"), "SOFA simulator executable")
	cmd.PersistentFlags().Bool("notify", defaults.GetBool("notify.enabled"), "Alert on new comments")
	cmd.PersistentFlags().Bool("desktop", defaults.GetBool("notify.desktop"), "Use desktop notifications for alerts")
	cmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	bindFlag(cmd, "store.url", "store-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "user.name", "user")
	bindFlag(cmd, "sofa.examples_dir", "examples-dir")
	bindFlag(cmd, "sofa.executable", "sofa-executable")
	bindFlag(cmd, "notify.enabled", "notify")
	bindFlag(cmd, "notify.desktop", "desktop")
	bindFlag(cmd, "log.level", "log-level")
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
