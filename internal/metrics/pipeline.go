// SPDX-License-Identifier: MIT

// Package metrics publishes the pipeline's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heliolapse_fetch_total",
		Help: "Upstream fetch attempts by source and outcome",
	}, []string{"source", "outcome"}) // outcome=ok|unavailable|invalid|duplicate

	fallbackDepth = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heliolapse_fallback_offset_minutes",
		Help:    "Absolute fallback offset applied to accepted fetches",
		Buckets: []float64{0, 3, 5, 6, 9, 10, 12, 14},
	}, []string{"source"})

	compositeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heliolapse_composite_total",
		Help: "Frame composite operations by outcome",
	}, []string{"outcome"}) // outcome=ok|error

	framesInWindow = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "heliolapse_frames_in_window",
		Help: "Frame records in the active window by status (last checkpoint)",
	}, []string{"status"})

	encodeChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heliolapse_encode_chunks_total",
		Help: "Encoder chunk runs by rendition and outcome",
	}, []string{"rendition", "outcome"})

	runPhase = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heliolapse_run_phase",
		Help: "Current run phase (0=idle 1=fetching 2=encoding 3=retention)",
	})
)

// RecordFetch counts one upstream fetch attempt outcome.
func RecordFetch(source, outcome string) {
	fetchTotal.WithLabelValues(source, outcome).Inc()
}

// RecordFallback observes the absolute offset of an accepted fetch.
func RecordFallback(source string, offsetMinutes int) {
	if offsetMinutes < 0 {
		offsetMinutes = -offsetMinutes
	}
	fallbackDepth.WithLabelValues(source).Observe(float64(offsetMinutes))
}

// RecordComposite counts one composite outcome.
func RecordComposite(outcome string) {
	compositeTotal.WithLabelValues(outcome).Inc()
}

// SetWindowStatus publishes per-status frame counts at checkpoint time.
func SetWindowStatus(status string, n int) {
	framesInWindow.WithLabelValues(status).Set(float64(n))
}

// RecordEncodeChunk counts one encoder chunk run.
func RecordEncodeChunk(rendition, outcome string) {
	encodeChunks.WithLabelValues(rendition, outcome).Inc()
}

// SetRunPhase publishes the controller's current phase.
func SetRunPhase(phase int) {
	runPhase.Set(float64(phase))
}
