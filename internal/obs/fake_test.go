package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeOBS is a minimal obs-websocket v5 server.
type fakeOBS struct {
	password string
	salt     string
	chal     string

	mu      sync.Mutex
	scenes  []string
	current string
	hang    bool
	conns   []*websocket.Conn
	calls   []string
}

func newFakeOBS(t *testing.T, password string, scenes ...string) (*fakeOBS, string, int) {
	f := &fakeOBS{password: password, salt: "lM1GncleQOaCu9lT1yeUZhFYnqhsLLP1G5lAGo3ixaI=", chal: "+IxH4CnCiqpX1rM9scsNynZzbOe4KhDeYcTNS3PDaeY=", scenes: scenes}
	if len(scenes) > 0 {
		f.current = scenes[0]
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	t.Cleanup(f.dropAll)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return f, host, port
}

func expectedAuth(password, salt, challenge string) string {
	h := sha256.New()
	h.Write([]byte(password))
	h.Write([]byte(salt))
	secret := base64.StdEncoding.EncodeToString(h.Sum(nil))

	h = sha256.New()
	h.Write([]byte(secret))
	h.Write([]byte(challenge))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

type wireMessage struct {
	Op int `json:"op"`
	D  struct {
		RPCVersion     int    `json:"rpcVersion"`
		Authentication string `json:"authentication"`
		RequestType    string `json:"requestType"`
		RequestID      string `json:"requestId"`
		RequestData    struct {
			SceneName string `json:"sceneName"`
		} `json:"requestData"`
	} `json:"d"`
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (f *fakeOBS) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	defer conn.Close()

	h := map[string]any{"obsWebSocketVersion": "5.4.2", "rpcVersion": 1}
	if f.password != "" {
		h["authentication"] = map[string]string{"challenge": f.chal, "salt": f.salt}
	}
	if err := conn.WriteJSON(map[string]any{"op": 0, "d": h}); err != nil {
		return
	}

	var msg wireMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Op != 1 {
		return
	}
	if f.password != "" && msg.D.Authentication != expectedAuth(f.password, f.salt, f.chal) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4009, "Authentication failed."), time.Now().Add(time.Second))
		return
	}
	if err := conn.WriteJSON(map[string]any{"op": 2, "d": map[string]int{"negotiatedRpcVersion": 1}}); err != nil {
		return
	}

	for {
		msg = wireMessage{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Op != 6 {
			continue
		}
		resp, ok := f.handle(msg.D.RequestType, msg.D.RequestData.SceneName)
		if !ok {
			continue
		}
		resp["requestType"] = msg.D.RequestType
		resp["requestId"] = msg.D.RequestID
		if err := conn.WriteJSON(map[string]any{"op": 7, "d": resp}); err != nil {
			return
		}
	}
}

func (f *fakeOBS) handle(requestType, scene string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, requestType)

	if f.hang {
		return nil, false
	}
	ok := map[string]any{"result": true, "code": 100}
	switch requestType {
	case "GetVersion":
		return map[string]any{"requestStatus": ok, "responseData": map[string]any{
			"obsVersion": "30.1.2", "obsWebSocketVersion": "5.4.2", "rpcVersion": 1,
		}}, true
	case "GetSceneList":
		scenes := make([]map[string]any, 0, len(f.scenes))
		for i, s := range f.scenes {
			scenes = append(scenes, map[string]any{"sceneName": s, "sceneIndex": i})
		}
		return map[string]any{"requestStatus": ok, "responseData": map[string]any{
			"currentProgramSceneName": f.current, "scenes": scenes,
		}}, true
	case "GetCurrentProgramScene":
		return map[string]any{"requestStatus": ok, "responseData": map[string]any{
			"currentProgramSceneName": f.current,
		}}, true
	case "SetCurrentProgramScene":
		for _, s := range f.scenes {
			if s == scene {
				f.current = scene
				return map[string]any{"requestStatus": ok}, true
			}
		}
		return map[string]any{"requestStatus": map[string]any{
			"result": false, "code": 600, "comment": "No source was found by the name of `" + scene + "`.",
		}}, true
	}
	return map[string]any{"requestStatus": map[string]any{"result": false, "code": 204}}, true
}

func (f *fakeOBS) setHang(v bool) {
	f.mu.Lock()
	f.hang = v
	f.mu.Unlock()
}

func (f *fakeOBS) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
	f.conns = nil
}

func (f *fakeOBS) currentScene() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// fakeSession is a hand-written Session whose behaviour is set per test.
type fakeSession struct {
	mu     sync.Mutex
	call   func(ctx context.Context, requestType string, data any) (any, error)
	closed int
}

func (s *fakeSession) Call(ctx context.Context, requestType string, data any, out any) error {
	resp, err := s.call(ctx, requestType, data)
	if err != nil {
		return err
	}
	if out != nil && resp != nil {
		raw, _ := json.Marshal(resp)
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDialer struct {
	dial  func(ctx context.Context, host string, port int, password string) (Session, error)
	calls int
}

func (d *fakeDialer) Dial(ctx context.Context, host string, port int, password string) (Session, error) {
	d.calls++
	return d.dial(ctx, host, port, password)
}

// okSession answers the handshake and scene queries for scenes.
func okSession(scenes ...string) *fakeSession {
	return &fakeSession{call: func(ctx context.Context, requestType string, data any) (any, error) {
		switch requestType {
		case reqGetVersion:
			return Version{OBSVersion: "30.1.2"}, nil
		case reqGetSceneList:
			list := map[string]any{"currentProgramSceneName": scenes[0]}
			var items []map[string]any
			for _, s := range scenes {
				items = append(items, map[string]any{"sceneName": s})
			}
			list["scenes"] = items
			return list, nil
		case reqGetCurrentProgramScene:
			return map[string]any{"currentProgramSceneName": scenes[0]}, nil
		}
		return nil, nil
	}}
}

// funcObserver is a pointer, so each registration is a distinct observer.
type funcObserver struct {
	fn func(SceneChange)
}

func (f *funcObserver) SceneChanged(change SceneChange) { f.fn(change) }

func observe(fn func(SceneChange)) Observer {
	return &funcObserver{fn: fn}
}

// sliceObserver is not comparable.
type sliceObserver []string

func (s sliceObserver) SceneChanged(SceneChange) {}
