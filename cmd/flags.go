////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
)

// This is the list of CLI flag and config key names. Pulling values with Viper
// should use the constants defined here. Dotted keys double as config file
// sections and PARLEY_ environment variables (db.dsn is PARLEY_DB_DSN).
const (
	//////////////// Root flags ///////////////////////////////////////////////
	configFlag   = "config"
	logLevelFlag = "logLevel"
	logFlag      = "log"
	userFlag     = "user"

	// Storage
	dbDriverFlag     = "db.driver"
	dbDSNFlag        = "db.dsn"
	kvDirFlag        = "kv.dir"
	kvPasswordFlag   = "kv.password"
	abuseBackendFlag = "abuse.backend"
	abuseRedisFlag   = "abuse.redis"
	abusePollFlag    = "abuse.pollInterval"

	// Pipeline
	pageSizeFlag      = "pipeline.pageSize"
	typingTimeoutFlag = "typing.timeout"
	cacheTTLFlag      = "cache.ttl"

	// Moderation
	moderationWorkersFlag  = "moderation.workers"
	moderationQueueFlag    = "moderation.queue"
	moderationRateFlag     = "moderation.rate"
	moderationTimeoutFlag  = "moderation.timeout"
	moderationRetriesFlag  = "moderation.retries"
	moderationTermsFlag    = "moderation.blockedTerms"
	moderationRegionFlag   = "moderation.region"
	moderationMaxEmojiFlag = "moderation.maxEmoji"

	// Attachments
	attachmentsDirFlag      = "attachments.dir"
	attachmentsURLFlag      = "attachments.baseURL"
	attachmentsMaxDimFlag   = "attachments.maxDimension"
	attachmentsQualityFlag  = "attachments.jpegQuality"
	attachmentsMaxBytesFlag = "attachments.maxBytes"

	//////////////// Serve subcommand flags ///////////////////////////////////
	serveAddrFlag = "serve.addr"
	ringSizeFlag  = "serve.ringSize"

	//////////////// Send and history subcommand flags ////////////////////////
	attachFlag   = "attach"
	moderateFlag = "moderate"
	waitFlag     = "wait"
	pagesFlag    = "pages"

	//////////////// Abuse subcommand flags ///////////////////////////////////
	followFlag   = "follow"
	adminFlag    = "admin"
	reasonFlag   = "reason"
	durationFlag = "duration"
)

// bindFlagHelper binds the key to a pflag.Flag used by Cobra and prints an
// error if one occurs.
func bindFlagHelper(key string, command *cobra.Command) {
	err := viper.BindPFlag(key, command.Flags().Lookup(key))
	if err != nil {
		jww.ERROR.Printf("viper.BindPFlag failed for %q: %+v", key, err)
	}
}

// bindPersistentFlagHelper binds the key to a persistent pflag.Flag used by
// Cobra and prints an error if one occurs.
func bindPersistentFlagHelper(key string, command *cobra.Command) {
	err := viper.BindPFlag(key, command.PersistentFlags().Lookup(key))
	if err != nil {
		jww.ERROR.Printf("viper.BindPFlag failed for %q: %+v", key, err)
	}
}

// parsePassword accepts a plain password, a hex password prefixed with "0x"
// or a base 64 password prefixed with "b64:".
func parsePassword(pwStr string) string {
	if strings.HasPrefix(pwStr, "0x") {
		pw, err := hex.DecodeString(pwStr[2:])
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		return string(pw)
	} else if strings.HasPrefix(pwStr, "b64:") {
		pw, err := base64.StdEncoding.DecodeString(pwStr[4:])
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		return string(pw)
	}
	return pwStr
}
