package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics to track
var (
	CommandsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrimbot_commands_dispatched_total",
			Help: "Chat commands dispatched, by outcome",
		},
		[]string{"status"}, // ok, denied, unknown, error
	)
	ActiveParties = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrimbot_active_parties",
			Help: "Parties the bot currently participates in",
		},
	)
	LiveReservations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrimbot_live_reservations",
			Help: "Reservations currently being polled",
		},
	)
	RosterMutations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scrimbot_roster_mutations_total",
			Help: "Roster changes pushed to the chat service",
		},
	)
)

// InitMetrics registers the bot's Prometheus metrics.
func InitMetrics() {
	prometheus.MustRegister(CommandsDispatched, ActiveParties, LiveReservations, RosterMutations)
}

// Server exposes /metrics on its own listener, compatible with the service
// manager lifecycle.
type Server struct {
	addr string
	srv  *http.Server
}

func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

func (s *Server) Init() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.srv = &http.Server{Addr: s.addr, Handler: mux}
	return nil
}

func (s *Server) Run(ctx context.Context) {
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic(err)
	}
}

func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.srv.Shutdown(ctx)
}
