////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/elixxir/ekv"

	"gitlab.com/elixxir/parley/abuse"
	"gitlab.com/elixxir/parley/attachment"
	"gitlab.com/elixxir/parley/cache"
	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/moderation"
	"gitlab.com/elixxir/parley/pipeline"
	"gitlab.com/elixxir/parley/realtime"
	"gitlab.com/elixxir/parley/stoppable"
	"gitlab.com/elixxir/parley/storage/versioned"
	"gitlab.com/elixxir/parley/store"
)

// Abuse record backends.
const (
	kvBackend    = "kv"
	redisBackend = "redis"
)

// stopTimeout bounds how long shutdown waits for threads to stop.
const stopTimeout = 5 * time.Second

// services holds the process-wide collaborators shared by every command.
type services struct {
	clock   clock.Clock
	bus     *realtime.Bus
	store   *store.Store
	tracker *abuse.Tracker
	grants  *abuse.Grants
	events  *event.Manager
	cache   *cache.Cache

	gate  *moderation.Gate
	files attachment.Storage
	comp  *attachment.Compressor

	threads *stoppable.Multi
	closers []func() error
}

// openServices opens the message store and the abuse backend configured in
// viper and starts event delivery.
func openServices(ctx context.Context) (*services, error) {
	s := &services{
		clock:   clock.New(),
		bus:     realtime.NewBus(),
		events:  event.NewManager(),
		threads: stoppable.NewMulti("Parley"),
	}

	dbParams := store.GetDefaultParams()
	dbParams.Driver = viper.GetString(dbDriverFlag)
	dbParams.DSN = viper.GetString(dbDSNFlag)
	st, err := store.Open(dbParams, s.bus, s.clock)
	if err != nil {
		return nil, err
	}
	s.store = st
	s.closers = append(s.closers, st.Close)

	abuseStore, err := s.openAbuseStore(ctx)
	if err != nil {
		s.close()
		return nil, err
	}
	s.tracker = abuse.NewTracker(abuseStore, s.clock, s.events)
	s.grants = abuse.NewGrants(abuseStore, s.tracker, s.clock)

	s.threads.Add(s.events.Start())
	if err = s.events.RegisterCallback("log", logNotice); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *services) openAbuseStore(ctx context.Context) (abuse.Store, error) {
	switch backend := viper.GetString(abuseBackendFlag); backend {
	case kvBackend, "":
		dir := viper.GetString(kvDirFlag)
		fs, err := ekv.NewFilestore(dir,
			parsePassword(viper.GetString(kvPasswordFlag)))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open key-value store %s",
				dir)
		}
		jww.INFO.Printf("[ABUSE] Using key-value store at %s", dir)
		return abuse.NewKVStore(versioned.NewKV(fs), s.clock), nil
	case redisBackend:
		rs, err := abuse.NewRedisStore(ctx, viper.GetString(abuseRedisFlag),
			s.clock)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rs.Close)
		return rs, nil
	default:
		return nil, errors.Errorf("unknown abuse backend %q", backend)
	}
}

// enableCache gives pipelines a conversation cache. Cached windows hold the
// viewer's own pending messages, so only single-user commands enable it.
func (s *services) enableCache() {
	s.cache = cache.New(cache.Params{TTL: viper.GetDuration(cacheTTLFlag)},
		s.clock)
}

// startModeration builds the moderation gate from viper and starts its
// workers.
func (s *services) startModeration() {
	p := moderation.GetDefaultParams()
	p.Workers = viper.GetInt(moderationWorkersFlag)
	p.QueueSize = viper.GetInt(moderationQueueFlag)
	p.RatePerSecond = viper.GetInt(moderationRateFlag)
	p.Timeout = viper.GetDuration(moderationTimeoutFlag)
	p.Retries = viper.GetInt(moderationRetriesFlag)

	classifier := &moderation.RuleClassifier{
		BlockedTerms: viper.GetStringSlice(moderationTermsFlag),
		Region:       viper.GetString(moderationRegionFlag),
		MaxEmoji:     viper.GetInt(moderationMaxEmojiFlag),
	}

	s.gate = moderation.NewGate(
		p, classifier, s.store, s.tracker, s.events, s.clock)
	s.threads.Add(s.gate.Start())
}

// openAttachments opens the attachment directory and compressor configured
// in viper.
func (s *services) openAttachments() error {
	files, err := attachment.NewDir(viper.GetString(attachmentsDirFlag),
		viper.GetString(attachmentsURLFlag))
	if err != nil {
		return err
	}
	s.files = files

	cp := attachment.GetDefaultCompressorParams()
	cp.MaxDimension = viper.GetUint(attachmentsMaxDimFlag)
	cp.JPEGQuality = viper.GetInt(attachmentsQualityFlag)
	cp.MaxBytes = viper.GetInt(attachmentsMaxBytesFlag)
	s.comp = attachment.NewCompressor(cp)
	return nil
}

// openPipeline opens the conversation as userID with every started service
// wired in.
func (s *services) openPipeline(ctx context.Context, ref conversation.Ref,
	userID string, model pipeline.EventModel) (*pipeline.Pipeline, error) {
	p := pipeline.GetDefaultParams()
	p.PageSize = viper.GetInt(pageSizeFlag)
	p.Typing.Timeout = viper.GetDuration(typingTimeoutFlag)

	deps := pipeline.Deps{
		Store:    s.store,
		Cache:    s.cache,
		Bus:      s.bus,
		Abuse:    s.tracker,
		Reporter: s.events,
		Clock:    s.clock,
	}
	if s.gate != nil {
		deps.Gate = s.gate
	}
	if s.files != nil {
		deps.Files = s.files
		deps.Compressor = s.comp
	}
	return pipeline.Open(ctx, ref, userID, deps, p, model)
}

// close stops every thread and closes the backends in reverse order.
func (s *services) close() {
	if err := s.threads.Close(); err != nil {
		jww.ERROR.Printf("[STOP] Failed to stop threads: %+v", err)
	} else if err = stoppable.WaitForStopped(s.threads, stopTimeout); err != nil {
		jww.ERROR.Printf("[STOP] %+v", err)
	}

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			jww.ERROR.Printf("[STOP] Failed to close backend: %+v", err)
		}
	}
}

// logNotice writes user-visible notices to the log.
func logNotice(priority int, category, evtType, details string) {
	n := event.Notice{Priority: priority, Category: category,
		EventType: evtType, Details: details}
	switch priority {
	case event.Alert:
		jww.WARN.Printf("[EVENT] %s", n)
	default:
		jww.INFO.Printf("[EVENT] %s", n)
	}
}
