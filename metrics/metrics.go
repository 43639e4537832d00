// Package metrics exposes frame and swap counters from a vm.Kernel
// as a prometheus.Collector, in the style of a systemd-exporter collector:
// every metric is described once in NewCollector and emitted fresh on each
// Collect call rather than cached.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"vmkern/vm"
)

const namespace = "vmkern"

// Collector adapts a vm.Kernel's counters to the Prometheus collection
// protocol.
type Collector struct {
	k *vm.Kernel

	frameAcquisitions *prometheus.Desc
	frameEvictions    *prometheus.Desc
	swapAllocs        *prometheus.Desc
	swapFrees         *prometheus.Desc
	swapSlotsUsed     *prometheus.Desc
	swapSlotsTotal    *prometheus.Desc
}

// NewCollector returns a Collector reporting k's cumulative counters.
func NewCollector(k *vm.Kernel) *Collector {
	return &Collector{
		k: k,
		frameAcquisitions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "frame_acquisitions_total"),
			"Total number of frame pool acquisitions, including those that triggered an eviction.",
			nil, nil,
		),
		frameEvictions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "frame_evictions_total"),
			"Total number of frames reclaimed by the clock eviction algorithm.",
			nil, nil,
		),
		swapAllocs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "swap_slot_allocations_total"),
			"Total number of swap slots allocated.",
			nil, nil,
		),
		swapFrees: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "swap_slot_frees_total"),
			"Total number of swap slots freed.",
			nil, nil,
		),
		swapSlotsUsed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "swap_slots_used"),
			"Current number of occupied swap slots.",
			nil, nil,
		),
		swapSlotsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "swap_slots_total"),
			"Total swap slot capacity.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.frameAcquisitions
	ch <- c.frameEvictions
	ch <- c.swapAllocs
	ch <- c.swapFrees
	ch <- c.swapSlotsUsed
	ch <- c.swapSlotsTotal
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	acquisitions, evictions, swapAllocs, swapFrees, swapUsed, swapTotal := c.k.Stats()

	ch <- prometheus.MustNewConstMetric(c.frameAcquisitions, prometheus.CounterValue, float64(acquisitions))
	ch <- prometheus.MustNewConstMetric(c.frameEvictions, prometheus.CounterValue, float64(evictions))
	ch <- prometheus.MustNewConstMetric(c.swapAllocs, prometheus.CounterValue, float64(swapAllocs))
	ch <- prometheus.MustNewConstMetric(c.swapFrees, prometheus.CounterValue, float64(swapFrees))
	ch <- prometheus.MustNewConstMetric(c.swapSlotsUsed, prometheus.GaugeValue, float64(swapUsed))
	ch <- prometheus.MustNewConstMetric(c.swapSlotsTotal, prometheus.GaugeValue, float64(swapTotal))
}
