package observability

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/dexft/dexft/internal/controller"
	"github.com/dexft/dexft/internal/eventbus"
	daemonruntime "github.com/dexft/dexft/internal/runtime"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

var lifecycleStates = []controller.State{
	controller.Stopped,
	controller.Starting,
	controller.Running,
	controller.Stopping,
	controller.FailedToStart,
}

// LifecycleProvider exposes the controller snapshot.
type LifecycleProvider interface {
	Snapshot() controller.Snapshot
}

// ServicesProvider exposes supervised daemon services.
type ServicesProvider interface {
	Services() []daemonruntime.ServiceStatus
}

// PrometheusExporter renders daemon metrics in Prometheus text format.
type PrometheusExporter struct {
	bus       *eventbus.Bus
	counter   *EventCounter
	lifecycle LifecycleProvider
	services  ServicesProvider
}

// NewPrometheusExporter constructs an exporter backed by the provided bus and event counter.
func NewPrometheusExporter(bus *eventbus.Bus, counter *EventCounter) *PrometheusExporter {
	return &PrometheusExporter{
		bus:     bus,
		counter: counter,
	}
}

// WithLifecycle enables exporting lifecycle state gauges.
func (e *PrometheusExporter) WithLifecycle(provider LifecycleProvider) *PrometheusExporter {
	e.lifecycle = provider
	return e
}

// WithServices enables exporting per-service running gauges.
func (e *PrometheusExporter) WithServices(provider ServicesProvider) *PrometheusExporter {
	e.services = provider
	return e
}

// Export produces the metrics payload in Prometheus' text exposition format.
func (e *PrometheusExporter) Export() []byte {
	var buf bytes.Buffer

	e.writeEventCounters(&buf)
	e.writeBusMetrics(&buf)
	e.writeLifecycleMetrics(&buf)
	e.writeServiceMetrics(&buf)

	return buf.Bytes()
}

// ServeHTTP serves Export on GET.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(e.Export())
}

func (e *PrometheusExporter) writeEventCounters(buf *bytes.Buffer) {
	if e.counter == nil {
		return
	}
	counts := e.counter.Snapshot()
	if len(counts) == 0 {
		return
	}

	buf.WriteString("# HELP dexft_eventbus_events_total Total number of published events per topic.\n")
	buf.WriteString("# TYPE dexft_eventbus_events_total counter\n")

	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, string(topic))
	}
	sort.Strings(topics)
	for _, topicName := range topics {
		fmt.Fprintf(buf, "dexft_eventbus_events_total{topic=%q} %d\n", topicName, counts[eventbus.Topic(topicName)])
	}
}

func (e *PrometheusExporter) writeBusMetrics(buf *bytes.Buffer) {
	if e.bus == nil {
		return
	}
	metrics := e.bus.Metrics()

	buf.WriteString("# HELP dexft_eventbus_publish_total Total number of events published on the bus.\n")
	buf.WriteString("# TYPE dexft_eventbus_publish_total counter\n")
	fmt.Fprintf(buf, "dexft_eventbus_publish_total %d\n", metrics.PublishTotal)

	buf.WriteString("# HELP dexft_eventbus_dropped_total Total number of events dropped by the bus.\n")
	buf.WriteString("# TYPE dexft_eventbus_dropped_total counter\n")
	fmt.Fprintf(buf, "dexft_eventbus_dropped_total %d\n", metrics.DroppedTotal)
}

func (e *PrometheusExporter) writeLifecycleMetrics(buf *bytes.Buffer) {
	if e.lifecycle == nil {
		return
	}
	snap := e.lifecycle.Snapshot()

	buf.WriteString("# HELP dexft_lifecycle_state Current lifecycle state of the transfer server (1 for the active state).\n")
	buf.WriteString("# TYPE dexft_lifecycle_state gauge\n")
	for _, state := range lifecycleStates {
		value := 0
		if snap.State == state {
			value = 1
		}
		fmt.Fprintf(buf, "dexft_lifecycle_state{state=%q} %d\n", string(state), value)
	}

	buf.WriteString("# HELP dexft_engine_uptime_seconds Seconds the transfer engine has been running.\n")
	buf.WriteString("# TYPE dexft_engine_uptime_seconds gauge\n")
	fmt.Fprintf(buf, "dexft_engine_uptime_seconds %.3f\n", durationSeconds(snap.Uptime))

	buf.WriteString("# HELP dexft_foreground_grants Outstanding foreground privilege grants.\n")
	buf.WriteString("# TYPE dexft_foreground_grants gauge\n")
	fmt.Fprintf(buf, "dexft_foreground_grants %d\n", snap.Grants)
}

func (e *PrometheusExporter) writeServiceMetrics(buf *bytes.Buffer) {
	if e.services == nil {
		return
	}
	services := e.services.Services()
	if len(services) == 0 {
		return
	}

	buf.WriteString("# HELP dexft_service_running Whether a supervised daemon service is running.\n")
	buf.WriteString("# TYPE dexft_service_running gauge\n")
	for _, svc := range services {
		value := 0
		if svc.Running {
			value = 1
		}
		fmt.Fprintf(buf, "dexft_service_running{service=%q} %d\n", svc.Name, value)
	}
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
