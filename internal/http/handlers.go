package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/emergency-dispatch/internal/dispatch"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/transport"
)

// Server routes HTTP traffic: the websocket endpoint that feeds the
// coordinator, the static dashboard pages, and the ops endpoints.
type Server struct {
	Coordinator *dispatch.Coordinator
	Hub         *transport.Hub

	webDir string
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(c *dispatch.Coordinator, hub *transport.Hub, webDir string, logger *slog.Logger) *Server {
	s := &Server{Coordinator: c, Hub: hub, webDir: webDir, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	// static dashboard plumbing
	s.page("/", "index.html")
	s.page("/login", "login.html")
	s.page("/register", "register.html")
	s.page("/dashboard/patient", "patient.html")
	s.page("/dashboard/driver", "driver.html")
	s.page("/dashboard/hospital", "hospital.html")
	s.mux.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(s.webDir))))
}

func (s *Server) page(route, file string) {
	path := filepath.Join(s.webDir, file)
	s.mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, path)
	}).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{
	// the dashboards are served from the same origin; no cross-origin checks
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	connID := newID()
	s.Hub.Add(connID, conn)
	s.logger.Info("connection opened", "conn_id", connID, "remote", r.RemoteAddr)
	go s.readLoop(connID, conn)
}

// readLoop decodes inbound frames and hands them to the coordinator until
// the connection drops. Malformed frames are logged and dropped; a bad
// client cannot take the process down.
func (s *Server) readLoop(connID string, conn *websocket.Conn) {
	defer func() {
		s.Hub.Remove(connID)
		s.Coordinator.Disconnect(connID)
		conn.Close()
		s.logger.Info("connection closed", "conn_id", connID)
	}()

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		s.dispatchEvent(connID, env)
	}
}

func (s *Server) dispatchEvent(connID string, env models.Envelope) {
	switch env.Event {
	case models.EvRegisterDriver:
		var p models.RegisterDriverPayload
		if !s.decode(connID, env, &p) {
			return
		}
		s.Coordinator.RegisterDriver(connID, p)
	case models.EvRegisterHospital:
		var p models.RegisterHospitalPayload
		if !s.decode(connID, env, &p) {
			return
		}
		s.Coordinator.RegisterHospital(connID, p)
	case models.EvSendSOS:
		var p models.SendSOSPayload
		if !s.decode(connID, env, &p) {
			return
		}
		s.Coordinator.SubmitSOS(connID, p)
	case models.EvAcceptSOS:
		var p models.AcceptSOSPayload
		if !s.decode(connID, env, &p) {
			return
		}
		s.Coordinator.AcceptSOS(connID, p.SOSID)
	case models.EvPatientArrived:
		var p models.PatientArrivedPayload
		if !s.decode(connID, env, &p) {
			return
		}
		s.Coordinator.PatientArrived(connID, p)
	default:
		s.logger.Warn("unknown event", "conn_id", connID, "event", env.Event)
	}
}

func (s *Server) decode(connID string, env models.Envelope, target any) bool {
	if err := json.Unmarshal(env.Data, target); err != nil {
		s.logger.Warn("malformed payload", "conn_id", connID, "event", env.Event, "error", err)
		return false
	}
	return true
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
