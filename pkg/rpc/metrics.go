/*
Copyright 2024 The Nuclio Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package rpc

import (
	"context"
	"time"

	"github.com/nuclio/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors of a single node's client
type Metrics struct {
	registerer   prometheus.Registerer
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	pendingCalls prometheus.Gauge
}

// NewMetrics creates the collectors for a node and registers them
func NewMetrics(nodeName string, registerer prometheus.Registerer) (*Metrics, error) {
	labels := prometheus.Labels{
		"node": nodeName,
	}

	metrics := &Metrics{
		registerer: registerer,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "erlbridge_rpc_calls_total",
			Help:        "Number of resolved rpc calls by kind and outcome",
			ConstLabels: labels,
		}, []string{"kind", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "erlbridge_rpc_call_duration_seconds",
			Help:        "Time from sending a call until it was resolved",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"kind"}),
		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "erlbridge_rpc_pending_calls",
			Help:        "Number of calls waiting for a reply",
			ConstLabels: labels,
		}),
	}

	var registered []prometheus.Collector

	for _, collector := range []prometheus.Collector{
		metrics.calls,
		metrics.callDuration,
		metrics.pendingCalls,
	} {
		if err := registerer.Register(collector); err != nil {

			// only roll back our own, an equal collector may belong to someone else
			for _, registeredCollector := range registered {
				registerer.Unregister(registeredCollector)
			}

			return nil, errors.Wrapf(err, "Failed to register rpc metrics for %s", nodeName)
		}

		registered = append(registered, collector)
	}

	return metrics, nil
}

// Unregister removes the collectors from the registerer they were created with
func (m *Metrics) Unregister() {
	if m == nil {
		return
	}

	m.registerer.Unregister(m.calls)
	m.registerer.Unregister(m.callDuration)
	m.registerer.Unregister(m.pendingCalls)
}

// the client calls these on a nil *Metrics when metrics are off

func (m *Metrics) callStarted() {
	if m == nil {
		return
	}

	m.pendingCalls.Inc()
}

func (m *Metrics) callResolved(kind callKind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}

	m.pendingCalls.Dec()
	m.calls.WithLabelValues(kind.String(), outcome).Inc()
	m.callDuration.WithLabelValues(kind.String()).Observe(duration.Seconds())
}

func (m *Metrics) castSent() {
	if m == nil {
		return
	}

	m.calls.WithLabelValues("cast", outcomeSuccess).Inc()
}

const (
	outcomeSuccess      = "success"
	outcomeRemoteError  = "remote_error"
	outcomeTimeout      = "timeout"
	outcomeNoConnection = "no_connection"
	outcomeCancelled    = "cancelled"
)

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case IsRemoteError(err):
		return outcomeRemoteError
	case IsTimeout(err):
		return outcomeTimeout
	case errors.RootCause(err) == context.Canceled || errors.RootCause(err) == context.DeadlineExceeded:
		return outcomeCancelled
	default:
		return outcomeNoConnection
	}
}
