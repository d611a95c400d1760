/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package exchange

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "shm_exchange"

// metricSet holds the collectors shared by every channel of a Registerer.
type metricSet struct {
	bytesWritten    *prometheus.CounterVec
	bytesRead       *prometheus.CounterVec
	framesWritten   *prometheus.CounterVec
	framesRead      *prometheus.CounterVec
	feedbackPending *prometheus.GaugeVec
	resets          *prometheus.CounterVec
}

// channelMetrics are the collectors of one channel side.
type channelMetrics struct {
	bytesWritten    prometheus.Counter
	bytesRead       prometheus.Counter
	framesWritten   prometheus.Counter
	framesRead      prometheus.Counter
	feedbackPending prometheus.Gauge
	resets          prometheus.Counter
}

var channelLabels = []string{"segment", "object"}

func newMetricSet() *metricSet {
	return &metricSet{
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_written_total",
			Help:      "Serialized bytes pushed into the payload ring.",
		}, channelLabels),
		bytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_read_total",
			Help:      "Serialized bytes popped from the payload ring.",
		}, channelLabels),
		framesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_written_total",
			Help:      "Items handed to the producer.",
		}, channelLabels),
		framesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_read_total",
			Help:      "Items decoded by the consumer.",
		}, channelLabels),
		feedbackPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "feedback_pending",
			Help:      "Feedback IDs buffered locally because the feedback ring was full.",
		}, channelLabels),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "resets_total",
			Help:      "Channel resets performed by the leading side.",
		}, channelLabels),
	}
}

// register registers c, returning the collector already registered under the
// same description if any.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func newChannelMetrics(reg prometheus.Registerer, segmentID, objectID string) (*channelMetrics, error) {
	set := newMetricSet()
	if reg != nil {
		var err error
		if set.bytesWritten, err = register(reg, set.bytesWritten); err != nil {
			return nil, err
		}
		if set.bytesRead, err = register(reg, set.bytesRead); err != nil {
			return nil, err
		}
		if set.framesWritten, err = register(reg, set.framesWritten); err != nil {
			return nil, err
		}
		if set.framesRead, err = register(reg, set.framesRead); err != nil {
			return nil, err
		}
		if set.feedbackPending, err = register(reg, set.feedbackPending); err != nil {
			return nil, err
		}
		if set.resets, err = register(reg, set.resets); err != nil {
			return nil, err
		}
	}
	return &channelMetrics{
		bytesWritten:    set.bytesWritten.WithLabelValues(segmentID, objectID),
		bytesRead:       set.bytesRead.WithLabelValues(segmentID, objectID),
		framesWritten:   set.framesWritten.WithLabelValues(segmentID, objectID),
		framesRead:      set.framesRead.WithLabelValues(segmentID, objectID),
		feedbackPending: set.feedbackPending.WithLabelValues(segmentID, objectID),
		resets:          set.resets.WithLabelValues(segmentID, objectID),
	}, nil
}
