// Copyright (c) OpenMMLab. All rights reserved.

package client

import (
	"errors"
	"strings"

	"github.com/oliverbrowneprima/dogtail/logger"
	"github.com/oliverbrowneprima/dogtail/pkg/client/logs"
	"github.com/oliverbrowneprima/dogtail/pkg/client/version"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override, e.g. DOGTAIL_OUTPUT_MODE
const EnvPrefix = "DOGTAIL"

// readConfig reads parameters from the configuration file and environment
func readConfig(configPath string) {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("dogtail")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	err := viper.ReadInConfig()
	if err == nil {
		logger.Logger.Debug("Using configuration file", zap.String("path", viper.ConfigFileUsed()))
		return
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) && configPath == "" {
		logger.Logger.Debug("No configuration file found, using flags and environment")
		return
	}
	logger.Logger.Warn("Error reading configuration file, using flags and environment", zap.Error(err))
}

func NewDogtailCommand() *cobra.Command {
	var configPath string

	// Create root command
	cmds := &cobra.Command{
		Use:   "dogtail",
		Short: "Tail a rate-limited log search API",
		Long: `dogtail follows a log search query, de-duplicates the overlapping
results of its sliding window and writes the events to one output per
partition key.

Usage:
  dogtail [subcommand] [parameters]

Example:
  dogtail logs "service:web" -k attributes.tags.pod_name -d api.datadoghq.com`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			readConfig(configPath)
		},
		// main prints the error once
		SilenceErrors: true,
	}

	// Disable auto-completion command
	cmds.CompletionOptions.DisableDefaultCmd = true

	cmds.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file, defaults to dogtail.yaml in this directory")
	cmds.PersistentFlags().StringP("domain", "d", logs.DefaultDomain, "Search API domain")

	cmds.AddCommand(
		logs.NewCmdLogs(),
		version.NewCmdVersion(),
	)

	return cmds
}
