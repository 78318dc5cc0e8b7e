package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_pipeline_stage_runs_total",
		Help: "Pipeline stage attempts by stage and outcome.",
	}, []string{"stage", "outcome"})

	metricEnrichFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_pipeline_enrich_fallbacks_total",
		Help: "Records completed with fallback metadata after exhausted enrichment retries.",
	})

	metricIngests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_ingests_total",
		Help: "Accepted uploads.",
	})
)
