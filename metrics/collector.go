// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package metrics exports the state of a watcher to Prometheus.
package metrics

import (
	"github.com/btcsuite/btcwatch/watcher"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "btcwatch"

// SnapshotSource provides the snapshot exported on every scrape. It is
// implemented by *watcher.Handle.
type SnapshotSource interface {
	Snapshot() watcher.Snapshot
}

// A compile-time check to ensure *watcher.Handle satisfies SnapshotSource.
var _ SnapshotSource = (*watcher.Handle)(nil)

// gauge pairs a metric description with the snapshot field it exports.
type gauge struct {
	desc  *prometheus.Desc
	value func(watcher.Snapshot) float64
}

// Collector is a prometheus.Collector that reads a fresh snapshot on every
// scrape, so the exported values never lag behind the watcher.
type Collector struct {
	source SnapshotSource
	gauges []gauge
}

// A compile-time check to ensure Collector satisfies prometheus.Collector.
var _ prometheus.Collector = (*Collector)(nil)

func newGauge(name, help string, value func(watcher.Snapshot) float64) gauge {
	return gauge{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", name), help, nil,
			nil,
		),
		value: value,
	}
}

// NewCollector returns a collector exporting the snapshots of source.
func NewCollector(source SnapshotSource) *Collector {
	return &Collector{
		source: source,
		gauges: []gauge{
			newGauge("header_tip", "Height of the best known "+
				"block header.", func(s watcher.Snapshot) float64 {
				return float64(s.HeaderTip)
			}),
			newGauge("filter_header_tip", "Height up to which "+
				"compact filter headers are synced.",
				func(s watcher.Snapshot) float64 {
					return float64(s.FilterHeaderTip)
				}),
			newGauge("filter_tip", "Height up to which compact "+
				"filters are scanned.",
				func(s watcher.Snapshot) float64 {
					return float64(s.FilterTip)
				}),
			newGauge("balance_sats", "Current balance of the "+
				"watched addresses in satoshis.",
				func(s watcher.Snapshot) float64 {
					return float64(s.Balance)
				}),
			newGauge("received_sats", "Total value received by "+
				"the watched addresses in satoshis.",
				func(s watcher.Snapshot) float64 {
					return float64(s.BalanceIn)
				}),
			newGauge("spent_sats", "Total value spent from the "+
				"watched addresses in satoshis.",
				func(s watcher.Snapshot) float64 {
					return float64(s.BalanceOut)
				}),
			newGauge("utxo_count", "Number of unspent transactions "+
				"paying the watched addresses.",
				func(s watcher.Snapshot) float64 {
					return float64(s.UtxoCount)
				}),
			newGauge("stxo_count", "Number of spent transactions "+
				"that paid the watched addresses.",
				func(s watcher.Snapshot) float64 {
					return float64(s.StxoCount)
				}),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.source.Snapshot()

	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(
			g.desc, prometheus.GaugeValue, g.value(snapshot),
		)
	}
}
