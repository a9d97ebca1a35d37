package vmem

import "github.com/docker/go-metrics"

var (
	reservationsTotal        metrics.Counter
	reservationFailuresTotal metrics.Counter
	releasesTotal            metrics.Counter
	decommitsTotal           metrics.Counter
	growDenied               metrics.LabeledCounter
	reservedBytes            metrics.Gauge
	accessibleBytes          metrics.Gauge
)

// Grow denial reasons, used as metric label values.
const (
	denyOverflow    = "overflow"
	denyMaximum     = "maximum"
	denyReservation = "reservation"
	denyClosed      = "closed"
)

func init() {
	ns := metrics.NewNamespace("wasm_memory", "vmem", nil)
	reservationsTotal = ns.NewCounter("reservations", "The number of linear memory reservations created")
	reservationFailuresTotal = ns.NewCounter("reservation_failures", "The number of reservations the operating system refused")
	releasesTotal = ns.NewCounter("releases", "The number of reservations returned to the operating system")
	decommitsTotal = ns.NewCounter("decommits", "The number of times accessible pages were discarded")
	growDenied = ns.NewLabeledCounter("grow_denied", "The number of grow requests refused", "reason")
	reservedBytes = ns.NewGauge("reserved", "The number of bytes of address space currently reserved", metrics.Bytes)
	accessibleBytes = ns.NewGauge("accessible", "The number of bytes currently readable and writable by guests", metrics.Bytes)
	for _, reason := range []string{denyOverflow, denyMaximum, denyReservation, denyClosed} {
		growDenied.WithValues(reason).Inc(0)
	}
	metrics.Register(ns)
}
