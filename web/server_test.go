package web

import (
	"CheatDetServer/annotate"
	"CheatDetServer/decision"
	iface "CheatDetServer/interface"
	"CheatDetServer/mock"
	"CheatDetServer/pipeline"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"
)

type detectResponse struct {
	Data struct {
		CheatingDetected bool   `json:"cheatingDetected"`
		Skipped          int    `json:"skipped"`
		Image            string `json:"image"`
		SessionID        string `json:"sessionID"`
		Persons          []struct {
			ID       int       `json:"id"`
			Box      []float32 `json:"box"`
			Decision string    `json:"decision"`
			Label    string    `json:"label"`
		} `json:"persons"`
	} `json:"data"`
	Error string `json:"error"`
}

func init() {
	gin.SetMode(gin.TestMode)
}

func jpegFrame(t *testing.T) []byte {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := annotate.EncodeJPEG(img)
	require.NoError(t, err)
	return buf
}

func newServer(t *testing.T, idle time.Duration) *Server {
	det := &mock.Detector{Persons: []iface.Person{mock.Person(20, 20)}}
	cls := &mock.Classifier{Rows: [][iface.NumClasses]float32{{0.99999, 0.00001, 0}}, Labels: decision.DefaultLabels}
	p := pipeline.New(det, cls, decision.NewRule(), annotate.DefaultStyle(), zaptest.NewLogger(t))
	return NewServer(p, idle, zaptest.NewLogger(t))
}

func TestPingAndConfig(t *testing.T) {
	router := newServer(t, time.Second).Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			Labels          []string `json:"labels"`
			DominanceFactor float64  `json:"dominanceFactor"`
			IdleTimeoutMs   int64    `json:"idleTimeoutMs"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, decision.DefaultLabels, body.Data.Labels)
	assert.Equal(t, float64(decision.DefaultDominanceFactor), body.Data.DominanceFactor)
	assert.Equal(t, int64(1000), body.Data.IdleTimeoutMs)
}

func TestDetect(t *testing.T) {
	router := newServer(t, time.Second).Router()

	check := func(t *testing.T, w *httptest.ResponseRecorder) {
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp detectResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Data.CheatingDetected)
		require.Len(t, resp.Data.Persons, 1)
		assert.Equal(t, "CHEATING", resp.Data.Persons[0].Decision)
		assert.Equal(t, "cheating", resp.Data.Persons[0].Label)
		assert.Equal(t, []float32{20, 20, 110, 360}, resp.Data.Persons[0].Box)

		img, err := base64.StdEncoding.DecodeString(resp.Data.Image)
		require.NoError(t, err)
		mat, err := annotate.DecodeImage(img)
		require.NoError(t, err)
		defer mat.Close()
		assert.Equal(t, 640, mat.Cols())
	}

	t.Run("raw body", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/detect", bytes.NewReader(jpegFrame(t)))
		req.Header.Set("Content-Type", "image/jpeg")
		router.ServeHTTP(w, req)
		check(t, w)
	})

	t.Run("multipart file", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", "frame.jpg")
		require.NoError(t, err)
		_, err = part.Write(jpegFrame(t))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/detect", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		router.ServeHTTP(w, req)
		check(t, w)
	})

	t.Run("empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/detect", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not an image", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/detect", strings.NewReader("hello")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid image")
	})
}

func TestWebSocket(t *testing.T) {
	s := newServer(t, 300*time.Millisecond)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	t.Run("frame round trip", func(t *testing.T) {
		msg := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegFrame(t))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

		var out map[string]any
		require.NoError(t, conn.ReadJSON(&out))
		assert.Equal(t, true, out["cheatingDetected"])
		assert.NotEmpty(t, out["sessionID"])
	})

	t.Run("bad frame keeps session", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("%%%")))
		var out map[string]any
		require.NoError(t, conn.ReadJSON(&out))
		assert.Contains(t, out["error"], "invalid image")
	})

	t.Run("idle session is released", func(t *testing.T) {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, _, err := conn.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())

		s.sessionMu.RLock()
		defer s.sessionMu.RUnlock()
		assert.Empty(t, s.sessions)
	})
}

func TestBase64ToMat(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString(jpegFrame(t))

	mat, err := Base64ToMat(raw)
	require.NoError(t, err)
	assert.Equal(t, 480, mat.Rows())
	mat.Close()

	mat, err = Base64ToMat("data:image/jpeg;base64," + raw)
	require.NoError(t, err)
	mat.Close()

	_, err = Base64ToMat("not base64!")
	assert.Error(t, err)
}
