////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package cmd initializes the CLI and config parsers as well as the logger.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/elixxir/parley/abuse"
	"gitlab.com/elixxir/parley/attachment"
	"gitlab.com/elixxir/parley/cache"
	"gitlab.com/elixxir/parley/logging"
	"gitlab.com/elixxir/parley/moderation"
	"gitlab.com/elixxir/parley/pipeline"
	"gitlab.com/elixxir/parley/store"
)

// envPrefix prefixes every environment variable read as configuration.
const envPrefix = "PARLEY"

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once
// to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Runs the parley negotiation and proposal chat pipeline",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLog(
			viper.GetUint(logLevelFlag), viper.GetString(logFlag))
	},
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP(configFlag, "c", "",
		"Path to a YAML config file")
	bindPersistentFlagHelper(configFlag, rootCmd)

	rootCmd.PersistentFlags().UintP(logLevelFlag, "v", 0,
		"Verbose mode for debugging (0 INFO, 1 DEBUG, 2 TRACE)")
	bindPersistentFlagHelper(logLevelFlag, rootCmd)

	rootCmd.PersistentFlags().StringP(logFlag, "l", "-",
		"Path to the log output path (- is stdout)")
	bindPersistentFlagHelper(logFlag, rootCmd)

	defaultDB := store.GetDefaultParams()
	rootCmd.PersistentFlags().String(dbDriverFlag, defaultDB.Driver,
		"Database driver, sqlite or postgres")
	bindPersistentFlagHelper(dbDriverFlag, rootCmd)

	rootCmd.PersistentFlags().String(dbDSNFlag, "",
		"Database DSN; an empty sqlite DSN uses a temporary in-memory database")
	bindPersistentFlagHelper(dbDSNFlag, rootCmd)

	rootCmd.PersistentFlags().String(kvDirFlag, "parley-kv",
		"Directory of the encrypted key-value store holding abuse records")
	bindPersistentFlagHelper(kvDirFlag, rootCmd)

	rootCmd.PersistentFlags().String(kvPasswordFlag, "",
		"Password of the key-value store (0x for hex, b64: for base 64)")
	bindPersistentFlagHelper(kvPasswordFlag, rootCmd)

	rootCmd.PersistentFlags().String(abuseBackendFlag, kvBackend,
		"Abuse record backend, kv or redis")
	bindPersistentFlagHelper(abuseBackendFlag, rootCmd)

	rootCmd.PersistentFlags().String(abuseRedisFlag, "redis://localhost:6379/0",
		"Redis URL used when the abuse backend is redis")
	bindPersistentFlagHelper(abuseRedisFlag, rootCmd)

	rootCmd.PersistentFlags().Duration(abusePollFlag,
		abuse.DefaultPollInterval, "How often blocks are checked for expiry")
	bindPersistentFlagHelper(abusePollFlag, rootCmd)

	rootCmd.PersistentFlags().StringP(userFlag, "u", "",
		"ID of the user the command acts as")
	bindPersistentFlagHelper(userFlag, rootCmd)

	initPipelineFlags()
	initModerationFlags()
	initAttachmentFlags()
}

func initPipelineFlags() {
	defaultPipeline := pipeline.GetDefaultParams()
	rootCmd.PersistentFlags().Int(pageSizeFlag, defaultPipeline.PageSize,
		"Number of messages fetched per page")
	bindPersistentFlagHelper(pageSizeFlag, rootCmd)

	rootCmd.PersistentFlags().Duration(typingTimeoutFlag,
		defaultPipeline.Typing.Timeout,
		"How long a typing indicator shows after the last signal")
	bindPersistentFlagHelper(typingTimeoutFlag, rootCmd)

	rootCmd.PersistentFlags().Duration(cacheTTLFlag, cache.DefaultTTL,
		"How long a cached conversation window is served without a refetch")
	bindPersistentFlagHelper(cacheTTLFlag, rootCmd)
}

func initModerationFlags() {
	defaultModeration := moderation.GetDefaultParams()
	rootCmd.PersistentFlags().Int(moderationWorkersFlag,
		defaultModeration.Workers, "Number of moderation workers")
	bindPersistentFlagHelper(moderationWorkersFlag, rootCmd)

	rootCmd.PersistentFlags().Int(moderationQueueFlag,
		defaultModeration.QueueSize,
		"Number of messages that may wait for a moderation worker")
	bindPersistentFlagHelper(moderationQueueFlag, rootCmd)

	rootCmd.PersistentFlags().Int(moderationRateFlag,
		defaultModeration.RatePerSecond,
		"Classifier calls allowed per second (0 is unlimited)")
	bindPersistentFlagHelper(moderationRateFlag, rootCmd)

	rootCmd.PersistentFlags().Duration(moderationTimeoutFlag,
		defaultModeration.Timeout, "Timeout of a single classifier call")
	bindPersistentFlagHelper(moderationTimeoutFlag, rootCmd)

	rootCmd.PersistentFlags().Int(moderationRetriesFlag,
		defaultModeration.Retries,
		"Classifier attempts before a message is left pending")
	bindPersistentFlagHelper(moderationRetriesFlag, rootCmd)

	rootCmd.PersistentFlags().StringSlice(moderationTermsFlag, nil,
		"Terms that get a message rejected")
	bindPersistentFlagHelper(moderationTermsFlag, rootCmd)

	rootCmd.PersistentFlags().String(moderationRegionFlag,
		moderation.DefaultRegion,
		"Region used to detect phone numbers without a country code")
	bindPersistentFlagHelper(moderationRegionFlag, rootCmd)

	rootCmd.PersistentFlags().Int(moderationMaxEmojiFlag, 0,
		"Emoji allowed in one message (0 is unlimited)")
	bindPersistentFlagHelper(moderationMaxEmojiFlag, rootCmd)
}

func initAttachmentFlags() {
	defaultCompressor := attachment.GetDefaultCompressorParams()
	rootCmd.PersistentFlags().String(attachmentsDirFlag, "attachments",
		"Directory uploaded attachments are written to")
	bindPersistentFlagHelper(attachmentsDirFlag, rootCmd)

	rootCmd.PersistentFlags().String(attachmentsURLFlag, "/attachments",
		"Public base URL of the attachment directory")
	bindPersistentFlagHelper(attachmentsURLFlag, rootCmd)

	rootCmd.PersistentFlags().Uint(attachmentsMaxDimFlag,
		defaultCompressor.MaxDimension,
		"Images are scaled down to fit this width and height")
	bindPersistentFlagHelper(attachmentsMaxDimFlag, rootCmd)

	rootCmd.PersistentFlags().Int(attachmentsQualityFlag,
		defaultCompressor.JPEGQuality, "Quality of re-encoded JPEG images")
	bindPersistentFlagHelper(attachmentsQualityFlag, rootCmd)

	rootCmd.PersistentFlags().Int(attachmentsMaxBytesFlag,
		defaultCompressor.MaxBytes, "Largest attachment accepted, in bytes")
	bindPersistentFlagHelper(attachmentsMaxBytesFlag, rootCmd)
}

// initConfig reads in the .env file, the config file and ENV variables if set.
func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		jww.WARN.Printf("Failed to load .env file: %+v", err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	configPath := viper.GetString(configFlag)
	if configPath == "" {
		return
	}
	viper.SetConfigFile(configPath)
	if err := viper.ReadInConfig(); err != nil {
		jww.FATAL.Panicf("Failed to read config file %s: %+v", configPath, err)
	}
	jww.INFO.Printf("Using config file %s", viper.ConfigFileUsed())
}
