package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// SnapshotSource is the read side of the component registry.
type SnapshotSource interface {
	Snapshot() []domain.ProcessSnapshot
}

// RegistryCollector reports registry occupancy at scrape time.
type RegistryCollector struct {
	source SnapshotSource

	processes *prometheus.Desc
	entities  *prometheus.Desc
	granted   *prometheus.Desc
}

// NewRegistryCollector creates a collector over source.
func NewRegistryCollector(source SnapshotSource) *RegistryCollector {
	return &RegistryCollector{
		source: source,
		processes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "registry", "processes"),
			"Processes in the process table", nil, nil),
		entities: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "registry", "components"),
			"Registered components", []string{"type", "valid"}, nil),
		granted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "registry", "granted_tokens"),
			"Owner tokens currently holding a temporary grant", []string{"type"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *RegistryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.processes
	ch <- c.entities
	ch <- c.granted
}

// Collect implements prometheus.Collector.
func (c *RegistryCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()

	type key struct {
		t     domain.ComponentType
		valid bool
	}
	counts := make(map[key]int)
	granted := make(map[domain.ComponentType]int)
	for _, p := range snap {
		for _, e := range p.Entities {
			counts[key{e.Type, e.Valid}]++
		}
		if p.Permissions.Location {
			granted[domain.LocationComponent]++
		}
		if p.Permissions.Paste {
			granted[domain.PasteComponent]++
		}
		if p.Permissions.Save {
			granted[domain.SaveComponent]++
		}
	}

	ch <- prometheus.MustNewConstMetric(c.processes, prometheus.GaugeValue, float64(len(snap)))
	for _, t := range []domain.ComponentType{domain.LocationComponent, domain.PasteComponent, domain.SaveComponent} {
		for _, valid := range []bool{true, false} {
			ch <- prometheus.MustNewConstMetric(c.entities, prometheus.GaugeValue,
				float64(counts[key{t, valid}]), t.String(), boolLabel(valid))
		}
		ch <- prometheus.MustNewConstMetric(c.granted, prometheus.GaugeValue, float64(granted[t]), t.String())
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
