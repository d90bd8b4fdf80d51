// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vault

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	saveDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statevault_save_duration_seconds",
		Help:    "Time to complete one full signed save",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"component", "status"})

	saveBytesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "statevault_save_bytes",
		Help: "Size of the most recent framed blob in bytes",
	}, []string{"component"})

	savesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statevault_saves_total",
		Help: "Total save attempts by outcome",
	}, []string{"component", "status"})

	savesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statevault_saves_skipped_total",
		Help: "Saves skipped by reason (cadence, space)",
	}, []string{"component", "reason"})

	loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statevault_loads_total",
		Help: "Total load operations by outcome (generation used or fresh)",
	}, []string{"component", "outcome"})

	recoveredGenerationGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "statevault_recovered_generation",
		Help: "Generation slot the last load recovered from (0 = main)",
	}, []string{"component"})
)
