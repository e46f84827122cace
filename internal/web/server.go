package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/guidoenr/particlizer/internal/analyzer"
	"github.com/guidoenr/particlizer/internal/metrics"
	"github.com/guidoenr/particlizer/internal/params"
	"github.com/guidoenr/particlizer/internal/render"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed static
var staticFiles embed.FS

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	maxMessage   = 64 << 10
	sendBuffer   = 64
	statusPeriod = 250 * time.Millisecond
)

// Controller is the running visualizer as seen by the control panel.
type Controller interface {
	Status() Status
	Apply(Update) error
}

// Status is the snapshot pushed to clients.
type Status struct {
	Style      string            `json:"style"`
	Quality    string            `json:"quality"`
	Palette    string            `json:"palette"`
	Color      string            `json:"colorMode"`
	Engine     string            `json:"engine"`
	Active     int               `json:"active"`
	FPS        float64           `json:"fps"`
	NoiseFloor float64           `json:"noiseFloor"`
	Features   FeatureView       `json:"features"`
	Params     params.Parameters `json:"params"`
}

// FeatureView is the display subset of analyzer.Features.
type FeatureView struct {
	RMS         float64     `json:"rms"`
	Centroid    float64     `json:"centroid"`
	Flux        float64     `json:"flux"`
	Bass        float64     `json:"bass"`
	Mid         float64     `json:"mid"`
	Treble      float64     `json:"treble"`
	TempoBPM    float64     `json:"tempoBpm"`
	TempoClass  string      `json:"tempoClass"`
	Onset       bool        `json:"onset"`
	Beat        float64     `json:"beat"`
	Chroma      [12]float64 `json:"chroma"`
	Harmonicity float64     `json:"harmonicity"`
	Key         string      `json:"key"`
	Energy      float64     `json:"energy"`
	EnergyLevel string      `json:"energyLevel"`
}

// ViewFeatures converts analyzer output for display.
func ViewFeatures(f analyzer.Features) FeatureView {
	return FeatureView{
		RMS:         f.RMS,
		Centroid:    f.SpectralCentroid,
		Flux:        f.SpectralFlux,
		Bass:        f.Bass,
		Mid:         f.Mid,
		Treble:      f.Treble,
		TempoBPM:    f.TempoBPM,
		TempoClass:  string(f.TempoClass),
		Onset:       f.Onset,
		Beat:        f.BeatStrength,
		Chroma:      f.Chroma,
		Harmonicity: f.Harmonicity,
		Key:         f.Key,
		Energy:      f.Energy,
		EnergyLevel: string(f.EnergyLevel),
	}
}

// Update changes the style target. Nil fields are left alone.
type Update struct {
	Style      *string           `json:"style,omitempty"`
	Quality    *string           `json:"quality,omitempty"`
	Reactivity *float64          `json:"reactivity,omitempty"`
	Overrides  *params.Overrides `json:"overrides,omitempty"`
	Palette    *string           `json:"palette,omitempty"`
	ColorMode  *string           `json:"colorMode,omitempty"`
	NoiseFloor *float64          `json:"noiseFloor,omitempty"`
}

// Validate rejects unknown names and out-of-range values.
func (u Update) Validate() error {
	if u.Style != nil {
		if _, err := params.LookupStyle(*u.Style); err != nil {
			return err
		}
	}
	if u.Quality != nil {
		if _, err := params.LookupQuality(*u.Quality); err != nil {
			return err
		}
	}
	if u.Reactivity != nil && (*u.Reactivity < 0 || *u.Reactivity > 1) {
		return fmt.Errorf("reactivity %v outside [0,1]", *u.Reactivity)
	}
	if u.NoiseFloor != nil && (*u.NoiseFloor < 0 || *u.NoiseFloor >= 1) {
		return fmt.Errorf("noise floor %v outside [0,1)", *u.NoiseFloor)
	}
	if u.Overrides != nil && u.Overrides.Shape != nil && !params.ValidShape(*u.Overrides.Shape) {
		return fmt.Errorf("unknown shape %q", *u.Overrides.Shape)
	}
	return nil
}

// DecodeUpdate accepts either a bare style name as a JSON string or an
// Update object.
func DecodeUpdate(data []byte) (Update, error) {
	var u Update
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return u, fmt.Errorf("decode style name: %w", err)
		}
		u.Style = &name
	} else if err := json.Unmarshal(data, &u); err != nil {
		return u, fmt.Errorf("decode update: %w", err)
	}
	return u, u.Validate()
}

type message struct {
	Type  string  `json:"type"`
	Data  *Status `json:"data,omitempty"`
	Error string  `json:"error,omitempty"`
}

// Server exposes the live status stream, style control and metrics.
type Server struct {
	ctrl     Controller
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	period   time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	log    logrus.FieldLogger
}

// NewServer wires the routes. m may be nil.
func NewServer(ctrl Controller, m *metrics.Metrics, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		ctrl:    ctrl,
		log:     log.WithField("component", "web"),
		metrics: m,
		mux:     http.NewServeMux(),
		period:  statusPeriod,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	static, _ := fs.Sub(staticFiles, "static")
	s.mux.Handle("/", http.FileServer(http.FS(static)))
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/style", s.handleStyle)
	s.mux.HandleFunc("/api/options", s.handleOptions)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	if m != nil {
		s.mux.Handle("/metrics", m.Handler())
	}
	return s
}

// Handler returns the HTTP handler with every route.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.statusLoop(ctx)
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("control panel listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Debug("write response")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{
		"styles":     params.StyleNames(),
		"qualities":  params.QualityNames(),
		"palettes":   render.PaletteNames(),
		"colorModes": render.ColorModeNames(),
	})
}

func (s *Server) handleStyle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		st := s.ctrl.Status()
		s.writeJSON(w, http.StatusOK, map[string]string{"style": st.Style, "quality": st.Quality})
		return
	case http.MethodPost, http.MethodPut:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessage))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if name := r.URL.Query().Get("name"); name != "" && len(bytes.TrimSpace(body)) == 0 {
		body, _ = json.Marshal(name)
	}
	u, err := DecodeUpdate(body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, message{Type: "error", Error: err.Error()})
		return
	}
	if err := s.ctrl.Apply(u); err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, message{Type: "error", Error: err.Error()})
		return
	}
	st := s.ctrl.Status()
	s.writeJSON(w, http.StatusOK, message{Type: "status", Data: &st})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade")
		return
	}
	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		server: s,
	}
	c.log = s.log.WithField("client", c.id)

	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.WebClients.Set(float64(n))
	}
	c.log.WithField("remote", r.RemoteAddr).Info("client connected")

	// greet with the current state right away
	s.sendStatus(c)
	go c.writePump()
	go c.readPump()
}

func (s *Server) sendStatus(c *client) {
	st := s.ctrl.Status()
	data, err := json.Marshal(message{Type: "status", Data: &st})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Broadcast()
		}
	}
}

// Broadcast pushes the current status to every client. Clients that cannot
// keep up are dropped.
func (s *Server) Broadcast() {
	s.mu.Lock()
	empty := len(s.clients) == 0
	s.mu.Unlock()
	if empty {
		return
	}

	st := s.ctrl.Status()
	data, err := json.Marshal(message{Type: "status", Data: &st})
	if err != nil {
		s.log.WithError(err).Warn("encode status")
		return
	}

	s.mu.Lock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			c.log.Warn("client too slow, dropping")
			s.removeLocked(c)
		}
	}
	n := len(s.clients)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.WebClients.Set(float64(n))
	}
}

// Clients reports the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	s.removeLocked(c)
	n := len(s.clients)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.WebClients.Set(float64(n))
	}
}

func (s *Server) removeLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		s.removeLocked(c)
	}
}

func (c *client) readPump() {
	defer func() {
		c.server.remove(c)
		c.conn.Close()
		c.log.Info("client disconnected")
	}()
	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("read")
			}
			return
		}
		c.handle(data)
	}
}

func (c *client) handle(data []byte) {
	u, err := DecodeUpdate(data)
	if err == nil {
		err = c.server.ctrl.Apply(u)
	}
	if err != nil {
		c.log.WithError(err).Debug("update rejected")
		reply, _ := json.Marshal(message{Type: "error", Error: err.Error()})
		c.trySend(reply)
		return
	}
	c.log.Debug("update applied")
	c.server.sendStatus(c)
}

func (c *client) trySend(data []byte) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if _, ok := c.server.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
