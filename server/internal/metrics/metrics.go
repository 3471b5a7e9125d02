package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/relaystack/relaystack/server/internal/binding"
	"github.com/relaystack/relaystack/server/internal/gateway"
)

// Metric names.
const (
	ConnectionsOpened = "relay_connections_opened_total"
	ConnectionsClosed = "relay_connections_closed_total"
	PresenceCount     = "relay_presence_count"
	Binds             = "relay_binds_total"
	Deliveries        = "relay_deliveries_total"
)

// Metrics holds the relay counters. The zero value is not usable; call New.
type Metrics struct {
	opened atomic.Uint64
	closed atomic.Uint64

	// presence reports the current node-local presence count.
	presence func() int

	mu         sync.Mutex
	binds      map[string]uint64
	deliveries map[gateway.Outcome]uint64

	logger *slog.Logger
}

// New creates a Metrics. presence may be nil, in which case the gauge is 0.
func New(presence func() int, logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Metrics{
		presence:   presence,
		binds:      make(map[string]uint64),
		deliveries: make(map[gateway.Outcome]uint64),
		logger:     logger.With("component", "metrics"),
	}
}

// ConnectionOpened counts an accepted transport connection.
func (m *Metrics) ConnectionOpened() { m.opened.Add(1) }

// ConnectionClosed counts a closed transport connection.
func (m *Metrics) ConnectionClosed() { m.closed.Add(1) }

// ObserveBind counts a bind attempt by result.
func (m *Metrics) ObserveBind(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binds[bindResult(err)]++
}

// ObserveDelivery counts a delivery attempt by outcome.
func (m *Metrics) ObserveDelivery(o gateway.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[o]++
}

func bindResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, binding.ErrInvalidIdentity):
		return "invalid"
	case errors.Is(err, binding.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// Gather returns a snapshot of every metric family, sorted by name.
func (m *Metrics) Gather() []*dto.MetricFamily {
	presence := 0
	if m.presence != nil {
		presence = m.presence()
	}

	families := []*dto.MetricFamily{
		counterFamily(ConnectionsOpened, "WebSocket connections accepted.", "", map[string]uint64{"": m.opened.Load()}),
		counterFamily(ConnectionsClosed, "WebSocket connections closed.", "", map[string]uint64{"": m.closed.Load()}),
		{
			Name:   proto.String(PresenceCount),
			Help:   proto.String("Connections currently live on this node."),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(float64(presence))}}},
		},
	}

	m.mu.Lock()
	binds := make(map[string]uint64, len(m.binds))
	for k, v := range m.binds {
		binds[k] = v
	}
	deliveries := make(map[string]uint64, len(m.deliveries))
	for k, v := range m.deliveries {
		deliveries[string(k)] = v
	}
	m.mu.Unlock()

	families = append(families,
		counterFamily(Binds, "Identity bind attempts by result.", "result", binds),
		counterFamily(Deliveries, "Delivery attempts by outcome.", "outcome", deliveries),
	)

	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	return families
}

// counterFamily builds a counter family with one series per label value.
// An empty label name produces a single unlabelled series.
func counterFamily(name, help, label string, values map[string]uint64) *dto.MetricFamily {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf := &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, k := range keys {
		metric := &dto.Metric{Counter: &dto.Counter{Value: proto.Float64(float64(values[k]))}}
		if label != "" {
			metric.Label = []*dto.LabelPair{{Name: proto.String(label), Value: proto.String(k)}}
		}
		mf.Metric = append(mf.Metric, metric)
	}
	return mf
}

// ServeHTTP handles GET /metrics.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range m.Gather() {
		// The text encoder rejects families without samples.
		if len(mf.GetMetric()) == 0 {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			m.logger.Warn("metrics: encode failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}
