// Package cmd provides the rendercache command-line interface.
//
// Configuration sources, highest priority first:
//  1. Command-line flags (--config, --port, --concurrency, ...)
//  2. Environment variables with the RENDERCACHE_ prefix
//     (RENDERCACHE_SERVER_PORT, RENDERCACHE_RENDER_CONCURRENCY, ...)
//  3. The .rendercache.yml configuration file
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rendercache",
	Short: "Token-keyed render cache and job scheduler",
	Long: `rendercache manages a cache of pre-rendered composition output.

It fingerprints content summaries into tokens, schedules renders of the
slow external engine under a concurrency ceiling, tracks each token through
its status lifecycle, and persists that state across restarts.

Quick start:
  rendercache init        Write a default .rendercache.yml
  rendercache serve       Start the HTTP API for the panel
  rendercache list        List cached tokens and their status
  rendercache doctor      Diagnose engine and cache-directory setup`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .rendercache.yml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("cache-dir", "", "cache root directory")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("render.cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("RENDERCACHE_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rendercache")
	}

	viper.SetEnvPrefix("RENDERCACHE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
