// ABOUTME: Prometheus collectors for the gateway
// ABOUTME: Tracks satellite connections, tool dispatch outcomes and decoder activity

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Satellite metrics
	SatellitesConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logicle_satellites_connected",
			Help: "Currently connected satellites",
		},
	)

	SatelliteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logicle_satellite_calls_total",
			Help: "Satellite tool calls by outcome",
		},
		[]string{"outcome"}, // "ok", "error", "rejected", "disconnected"
	)

	// Tool dispatch metrics
	ToolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logicle_tool_invocations_total",
			Help: "Tool invocations by kind",
		},
		[]string{"kind"}, // "local" or "satellite"
	)

	// Stream decoder metrics
	DecoderChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logicle_decoder_chunks_total",
			Help: "Provider stream chunks by parse status",
		},
		[]string{"status"}, // "ok" or "malformed"
	)

	ResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logicle_responses_total",
			Help: "Assistant responses by finish reason",
		},
		[]string{"finish_reason"},
	)
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
