package web

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/guidoenr/particlizer/internal/metrics"
	"github.com/guidoenr/particlizer/internal/params"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu      sync.Mutex
	status  Status
	applied []Update
	fail    error
}

func newFakeController() *fakeController {
	return &fakeController{status: Status{Style: "calm", Quality: "balanced", Engine: "ready", Params: params.Defaults()}}
}

func (f *fakeController) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) Apply(u Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.applied = append(f.applied, u)
	if u.Style != nil {
		f.status.Style = *u.Style
	}
	if u.Quality != nil {
		f.status.Quality = *u.Quality
	}
	return nil
}

func (f *fakeController) updates() []Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Update(nil), f.applied...)
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestDecodeUpdate(t *testing.T) {
	u, err := DecodeUpdate([]byte(` "cosmic" `))
	require.NoError(t, err)
	require.NotNil(t, u.Style)
	assert.Equal(t, "cosmic", *u.Style)

	u, err = DecodeUpdate([]byte(`{"quality":"eco","overrides":{"speed":2,"shape":"torus"}}`))
	require.NoError(t, err)
	assert.Equal(t, "eco", *u.Quality)
	assert.Equal(t, 2.0, *u.Overrides.Speed)
	assert.Nil(t, u.Style)
	assert.Nil(t, u.NoiseFloor)

	u, err = DecodeUpdate([]byte(`{"noiseFloor":0.1}`))
	require.NoError(t, err)
	require.NotNil(t, u.NoiseFloor)
	assert.Equal(t, 0.1, *u.NoiseFloor)

	for _, bad := range []string{`"disco"`, `{"quality":"ultra"}`, `{"reactivity":2}`, `{"noiseFloor":1}`, `{"noiseFloor":-0.5}`, `{"overrides":{"shape":"cone"}}`, `{`} {
		_, err := DecodeUpdate([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := NewServer(newFakeController(), nil, quietLogger())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "calm", st.Style)
	assert.Equal(t, params.Defaults().Count, st.Params.Count)
}

func TestStyleEndpoint(t *testing.T) {
	ctrl := newFakeController()
	s := NewServer(ctrl, nil, quietLogger())

	post := func(target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, strings.NewReader(body)))
		return rec
	}

	rec := post("/api/style", `"energetic"`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"style":"energetic"`)

	rec = post("/api/style?name=cosmic", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cosmic", ctrl.Status().Style)

	rec = post("/api/style", `{"overrides":{"bloom":0.9}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	last := ctrl.updates()[len(ctrl.updates())-1]
	assert.Equal(t, 0.9, *last.Overrides.Bloom)

	rec = post("/api/style", `"disco"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctrl.fail = errors.New("engine destroyed")
	rec = post("/api/style", `"calm"`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "engine destroyed")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/style", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestOptionsAndIndex(t *testing.T) {
	s := NewServer(newFakeController(), nil, quietLogger())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/options", nil))
	var opts map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opts))
	assert.Equal(t, params.StyleNames(), opts["styles"])
	assert.Equal(t, params.QualityNames(), opts["qualities"])

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "particlizer")
}

func TestMetricsRoute(t *testing.T) {
	withMetrics := NewServer(newFakeController(), metrics.New(), quietLogger())
	rec := httptest.NewRecorder()
	withMetrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "particlizer_web_clients")
}

func readMessage(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	// the writer may batch several messages per frame
	first := strings.SplitN(string(data), "\n", 2)[0]
	var msg message
	require.NoError(t, json.Unmarshal([]byte(first), &msg))
	return msg
}

func TestWebSocketControl(t *testing.T) {
	ctrl := newFakeController()
	m := metrics.New()
	s := NewServer(ctrl, m, quietLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readMessage(t, conn)
	assert.Equal(t, "status", hello.Type)
	require.NotNil(t, hello.Data)
	assert.Equal(t, "calm", hello.Data.Style)
	assert.Equal(t, 1, s.Clients())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"style":"cosmic","quality":"eco"}`)))
	reply := readMessage(t, conn)
	assert.Equal(t, "status", reply.Type)
	assert.Equal(t, "cosmic", reply.Data.Style)
	assert.Equal(t, "eco", reply.Data.Quality)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`"disco"`)))
	rejected := readMessage(t, conn)
	assert.Equal(t, "error", rejected.Type)
	assert.Contains(t, rejected.Error, "disco")

	s.Broadcast()
	pushed := readMessage(t, conn)
	assert.Equal(t, "status", pushed.Type)

	conn.Close()
	assert.Eventually(t, func() bool { return s.Clients() == 0 }, 3*time.Second, 10*time.Millisecond)
}
