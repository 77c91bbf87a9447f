////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package metrics holds the Prometheus collectors of the message pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parley"

// Registry holds every parley collector plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	// Sends counts send attempts by conversation kind and outcome.
	Sends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sends_total",
		Help:      "Send attempts by conversation kind and outcome.",
	}, []string{"kind", "outcome"})

	// ModerationDecisions counts classifier outcomes.
	ModerationDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moderation_decisions_total",
		Help:      "Moderation outcomes by conversation kind.",
	}, []string{"kind", "decision"})

	// ModerationLatency observes classifier call durations.
	ModerationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "moderation_seconds",
		Help:      "Classifier call latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// ModerationQueue is the number of messages waiting for a worker.
	ModerationQueue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "moderation_queue_length",
		Help:      "Messages waiting for moderation.",
	})

	// Violations counts recorded violations.
	Violations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "violations_total",
		Help:      "Rejected messages recorded against their sender.",
	})

	// Blocks counts blocks started, by source.
	Blocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_total",
		Help:      "Blocks started by source (escalation or manual).",
	}, []string{"source"})

	// CacheLookups counts conversation cache reads by result.
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Conversation cache reads by result (hit, miss, stale).",
	}, []string{"result"})

	// Subscriptions is the number of open realtime subscriptions.
	Subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscriptions",
		Help:      "Open conversation subscriptions.",
	})
)

// Send outcomes.
const (
	OutcomeSent      = "sent"
	OutcomeInvalid   = "invalid"
	OutcomeBlocked   = "blocked"
	OutcomeUpload    = "upload_failure"
	OutcomePersist   = "persist_failure"
	SourceEscalation = "escalation"
	SourceManual     = "manual"
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		Sends,
		ModerationDecisions,
		ModerationLatency,
		ModerationQueue,
		Violations,
		Blocks,
		CacheLookups,
		Subscriptions,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
