package obs

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"obs-control-backend/config"
)

// State is the connection state of a Controller.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFaulted      State = "faulted"
)

// Status is a cached snapshot of the controller; reading it never touches the network.
type Status struct {
	State        State     `json:"state"`
	Reason       string    `json:"reason,omitempty"`
	Host         string    `json:"host,omitempty"`
	Port         int       `json:"port,omitempty"`
	CurrentScene string    `json:"current_scene,omitempty"`
	Scenes       []string  `json:"scenes"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SceneChange describes a switch performed by the controller.
type SceneChange struct {
	Scene      string    `json:"scene"`
	At         time.Time `json:"at"`
	ScheduleID *string   `json:"schedule_id,omitempty"`
	MediaID    *int64    `json:"media_id,omitempty"`
}

// Observer is notified after every successful SwitchScene, on the switching
// goroutine and before SwitchScene returns. Implementations must be fast and
// must not call back into the controller's remote methods; Status is fine.
type Observer interface {
	SceneChanged(change SceneChange)
}

// SwitchOption tags a SwitchScene call.
type SwitchOption func(*SceneChange)

// WithSchedule marks a switch as fired by a schedule entry.
func WithSchedule(entryID string, mediaID *int64) SwitchOption {
	return func(c *SceneChange) {
		id := entryID
		c.ScheduleID = &id
		c.MediaID = mediaID
	}
}

// WithMedia links a manual switch to a media asset for reporting.
func WithMedia(mediaID *int64) SwitchOption {
	return func(c *SceneChange) {
		c.MediaID = mediaID
	}
}

// Controller owns the single OBS session. Every remote call is serialised
// through callMu; the session is not assumed safe for concurrent use.
type Controller struct {
	dialer         Dialer
	connectTimeout time.Duration
	requestTimeout time.Duration
	now            func() time.Time

	callMu  sync.Mutex
	session Session

	mu        sync.RWMutex
	status    Status
	observers []Observer
}

// NewController creates a disconnected controller.
func NewController(cfg config.OBSConfig, dialer Dialer) *Controller {
	c := &Controller{
		dialer:         dialer,
		connectTimeout: cfg.ConnectTimeout,
		requestTimeout: cfg.RequestTimeout,
		now:            time.Now,
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = 3 * time.Second
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = 3 * time.Second
	}
	c.status = Status{State: StateDisconnected, Scenes: []string{}, UpdatedAt: c.now()}
	return c
}

// Connect validates operator input and connects. port is taken as typed.
func (c *Controller) Connect(ctx context.Context, host, port, password string) error {
	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return &ConnectError{Kind: ConnectInvalidInput, Err: fmt.Errorf("port %q is not a number", port)}
	}
	return c.ConnectPort(ctx, host, p, password)
}

// ConnectPort opens a new session, replacing any existing one. It never
// retries; on failure the controller is left disconnected.
func (c *Controller) ConnectPort(ctx context.Context, host string, port int, password string) error {
	host = strings.TrimSpace(host)
	switch {
	case host == "":
		return &ConnectError{Kind: ConnectInvalidInput, Err: errors.New("host is required")}
	case password == "":
		return &ConnectError{Kind: ConnectInvalidInput, Err: errors.New("password is required")}
	case port < 1 || port > 65535:
		return &ConnectError{Kind: ConnectInvalidInput, Err: fmt.Errorf("port %d out of range 1-65535", port)}
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.closeSessionLocked()
	c.setStatus(func(s *Status) {
		*s = Status{State: StateConnecting, Host: host, Port: port, Scenes: []string{}}
	})

	dctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	sess, err := c.dialer.Dial(dctx, host, port, password)
	if err == nil {
		var v Version
		if err = sess.Call(dctx, reqGetVersion, nil, &v); err != nil {
			sess.Close()
		} else {
			log.Info().Str("host", host).Int("port", port).
				Str("obs_version", v.OBSVersion).Str("obs_websocket_version", v.OBSWebSocketVersion).
				Msg("connected to obs")
		}
	}
	if err != nil {
		ce := classifyConnect(err)
		c.setStatus(func(s *Status) {
			*s = Status{State: StateDisconnected, Host: host, Port: port, Scenes: []string{}}
		})
		log.Warn().Err(err).Str("host", host).Int("port", port).Str("kind", string(ce.Kind)).Msg("obs connect failed")
		return ce
	}

	c.session = sess
	c.setStatus(func(s *Status) { s.State = StateConnected })
	c.refreshLocked(ctx)
	return nil
}

// Disconnect releases the session. It is idempotent and never fails.
func (c *Controller) Disconnect() {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.closeSessionLocked()
	c.setStatus(func(s *Status) {
		*s = Status{State: StateDisconnected, Host: s.Host, Port: s.Port, Scenes: []string{}}
	})
}

func (c *Controller) closeSessionLocked() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing obs session")
	} else {
		log.Info().Msg("obs session closed")
	}
	c.session = nil
}

// ListScenes returns the scene names, or an empty slice when not connected or
// the query fails.
func (c *Controller) ListScenes(ctx context.Context) []string {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	list, err := c.sceneListLocked(ctx)
	if err != nil {
		return []string{}
	}
	return list
}

// CurrentScene returns the program scene; ok is false when not connected or
// the query fails.
func (c *Controller) CurrentScene(ctx context.Context) (name string, ok bool) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	var resp currentProgramScene
	if err := c.callLocked(ctx, reqGetCurrentProgramScene, nil, &resp); err != nil {
		return "", false
	}
	name = resp.name()
	c.setStatus(func(s *Status) { s.CurrentScene = name })
	return name, true
}

// SwitchScene makes name the program scene. Observers are notified, in
// registration order, before it returns.
func (c *Controller) SwitchScene(ctx context.Context, name string, opts ...SwitchOption) error {
	if strings.TrimSpace(name) == "" {
		return &SwitchError{Kind: SwitchRejected, Scene: name, Err: errors.New("scene name is required")}
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.session == nil {
		return &SwitchError{Kind: SwitchNotConnected, Scene: name, Err: ErrNotConnected}
	}

	err := c.callLocked(ctx, reqSetCurrentProgramScene, setCurrentProgramScene{SceneName: name}, nil)
	if err != nil {
		var re *RequestError
		switch {
		case errors.As(err, &re):
			return &SwitchError{Kind: SwitchRejected, Scene: name, Err: err}
		case errors.Is(err, ErrSessionClosed):
			return &SwitchError{Kind: SwitchNotConnected, Scene: name, Err: err}
		default:
			return &SwitchError{Kind: SwitchTimeout, Scene: name, Err: err}
		}
	}

	change := SceneChange{Scene: name, At: c.now()}
	for _, opt := range opts {
		opt(&change)
	}
	c.setStatus(func(s *Status) { s.CurrentScene = name })
	log.Info().Str("scene", name).Msg("program scene switched")

	c.mu.RLock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.RUnlock()
	for _, o := range observers {
		notify(o, change)
	}
	return nil
}

func notify(o Observer, change SceneChange) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("scene", change.Scene).Msg("scene observer panicked")
		}
	}()
	o.SceneChanged(change)
}

// AddObserver registers o. Registering the same observer twice is a no-op.
// Observers must be comparable (usually a pointer) so duplicates can be
// detected; anything else is refused.
func (c *Controller) AddObserver(o Observer) {
	if o == nil {
		return
	}
	if !reflect.TypeOf(o).Comparable() {
		log.Error().Str("type", reflect.TypeOf(o).String()).Msg("refusing non-comparable scene observer")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.observers {
		if existing == o {
			return
		}
	}
	c.observers = append(c.observers, o)
}

// Status returns the cached connection snapshot.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.status
	s.Scenes = append([]string{}, c.status.Scenes...)
	return s
}

// Refresh re-reads the scene list and program scene into the cached status.
func (c *Controller) Refresh(ctx context.Context) {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	c.refreshLocked(ctx)
}

func (c *Controller) refreshLocked(ctx context.Context) {
	if c.session == nil {
		return
	}
	if _, err := c.sceneListLocked(ctx); err != nil {
		log.Debug().Err(err).Msg("obs refresh failed")
	}
}

func (c *Controller) sceneListLocked(ctx context.Context) ([]string, error) {
	var resp sceneList
	if err := c.callLocked(ctx, reqGetSceneList, nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Scenes))
	for _, sc := range resp.Scenes {
		names = append(names, sc.SceneName)
	}
	c.setStatus(func(s *Status) {
		s.Scenes = names
		s.CurrentScene = resp.CurrentProgramSceneName
	})
	return append([]string(nil), names...), nil
}

// Monitor refreshes the cached status every interval until ctx is done.
func (c *Controller) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.Refresh(ctx)
			timer.Reset(interval)
		}
	}
}

// callLocked performs one bounded request. A lost transport faults the
// controller; reconnecting requires an explicit Connect.
func (c *Controller) callLocked(ctx context.Context, requestType string, data, out any) error {
	if c.session == nil {
		return ErrNotConnected
	}
	rctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	err := c.session.Call(rctx, requestType, data, out)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionClosed) {
		c.faultLocked(err)
		return err
	}
	var re *RequestError
	if !errors.As(err, &re) {
		log.Warn().Err(err).Str("request", requestType).Msg("obs request did not complete")
	}
	return err
}

func (c *Controller) faultLocked(err error) {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	c.setStatus(func(s *Status) {
		s.State = StateFaulted
		s.Reason = err.Error()
		s.CurrentScene = ""
		s.Scenes = []string{}
	})
	log.Error().Err(err).Msg("obs connection lost")
}

func (c *Controller) setStatus(fn func(*Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
	c.status.UpdatedAt = c.now()
}
