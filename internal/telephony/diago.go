package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/emiago/diago"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/intercom/internal/logger"
	"github.com/sweeney/intercom/internal/logic"
)

// hangupTimeout bounds sending BYE or a final response during teardown.
const hangupTimeout = 5 * time.Second

var errEngineClosed = errors.New("telephony: engine closed")

// DiagoConfig configures the SIP user agent.
type DiagoConfig struct {
	Transport string
	BindHost  string
	BindPort  int
	UserAgent string
	// Username and Password answer digest challenges on outbound calls.
	Username string
	Password string
}

// DiagoEngine is an Engine on top of the diago SIP stack. Each call runs on
// its own goroutine, which is also the one delivering its handler events.
type DiagoEngine struct {
	cfg DiagoConfig
	ua  *sipgo.UserAgent
	dg  *diago.Diago
	log *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[string]*diagoSession
	closed   bool
	wg       sync.WaitGroup
}

type diagoSession struct {
	id     string
	target string
	dir    Direction
	h      Handler

	hangupOnce sync.Once
	hangup     chan struct{}
	answerOnce sync.Once
	answer     chan struct{}

	mu     sync.Mutex
	state  logic.CallState
	client *diago.DialogClientSession
	server *diago.DialogServerSession
}

func (s *diagoSession) ID() string           { return s.id }
func (s *diagoSession) Target() string       { return s.target }
func (s *diagoSession) Direction() Direction { return s.dir }

func (s *diagoSession) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != logic.CallEnded
}

func (s *diagoSession) State() logic.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *diagoSession) requestHangup() {
	s.hangupOnce.Do(func() { close(s.hangup) })
}

// transition records state and notifies the handler. Only the session's
// own goroutine calls it.
func (s *diagoSession) transition(state logic.CallState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.h.OnStateChanged(s, state)
}

// NewDiagoEngine creates the user agent and binds its transport.
func NewDiagoEngine(cfg DiagoConfig) (*DiagoEngine, error) {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("create sip user agent: %w", err)
	}

	dg := diago.NewDiago(ua, diago.WithTransport(diago.Transport{
		Transport: cfg.Transport,
		BindHost:  cfg.BindHost,
		BindPort:  cfg.BindPort,
	}))

	return &DiagoEngine{
		cfg:      cfg,
		ua:       ua,
		dg:       dg,
		log:      logger.Logger().Named("sip"),
		sessions: make(map[string]*diagoSession),
	}, nil
}

func (e *DiagoEngine) newSession(target string, dir Direction, h Handler) *diagoSession {
	return &diagoSession{
		id:     uuid.NewString(),
		target: target,
		dir:    dir,
		h:      h,
		hangup: make(chan struct{}),
		answer: make(chan struct{}),
		state:  logic.CallIdle,
	}
}

// track registers s; it fails once the engine is closing.
func (e *DiagoEngine) track(s *diagoSession) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errEngineClosed
	}
	e.sessions[s.id] = s
	e.wg.Add(1)

	return nil
}

func (e *DiagoEngine) forget(s *diagoSession) {
	e.mu.Lock()
	delete(e.sessions, s.id)
	e.mu.Unlock()
	e.wg.Done()
}

func (e *DiagoEngine) lookup(sess Session) (*diagoSession, error) {
	if sess == nil {
		return nil, ErrUnknownSession
	}

	e.mu.Lock()
	s, ok := e.sessions[sess.ID()]
	e.mu.Unlock()

	if !ok {
		// Sessions are forgotten once they end.
		if !sess.Valid() {
			return nil, ErrSessionClosed
		}
		return nil, ErrUnknownSession
	}

	return s, nil
}

// PlaceCall validates target and starts the INVITE in the background.
// The call is not bound to ctx; use Hangup to end it.
func (e *DiagoEngine) PlaceCall(_ context.Context, target string, h Handler) (Session, error) {
	var uri sip.Uri
	if err := sip.ParseUri(target, &uri); err != nil {
		return nil, &PlacementError{Target: target, Err: err}
	}

	s := e.newSession(target, Outbound, h)
	if err := e.track(s); err != nil {
		return nil, &PlacementError{Target: target, Err: err}
	}

	go e.runOutbound(s, uri)

	return s, nil
}

func (e *DiagoEngine) runOutbound(s *diagoSession, uri sip.Uri) {
	defer e.forget(s)

	log := e.log.With("call_id", s.id, "target", s.target)

	s.transition(logic.CallRingingOut)

	// A hangup while the INVITE is pending cancels it. Once answered the
	// dialog is ended with BYE instead.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	invited := make(chan struct{})
	go func() {
		select {
		case <-s.hangup:
			cancel()
		case <-invited:
		}
	}()

	dialog, err := e.dg.Invite(ctx, uri, diago.InviteOptions{
		Username: e.cfg.Username,
		Password: e.cfg.Password,
	})
	close(invited)
	if err != nil {
		log.Warnw("invite failed", "error", err)
		s.transition(logic.CallEnded)
		return
	}
	defer dialog.Close()

	s.mu.Lock()
	s.client = dialog
	s.mu.Unlock()

	log.Info("call answered")
	s.transition(logic.CallConnected)
	s.h.OnMediaStateChanged(s, true)

	select {
	case <-dialog.Context().Done():
		log.Info("remote hung up")
	case <-s.hangup:
		hctx, hcancel := context.WithTimeout(context.Background(), hangupTimeout)
		if err := dialog.Hangup(hctx); err != nil {
			log.Warnw("hangup failed", "error", err)
		}
		hcancel()
	}

	s.h.OnMediaStateChanged(s, false)
	s.transition(logic.CallEnded)
}

// Serve runs the SIP server until ctx is done, offering inbound calls to
// accept.
func (e *DiagoEngine) Serve(ctx context.Context, accept Acceptor) error {
	err := e.dg.Serve(ctx, func(d *diago.DialogServerSession) {
		e.serveInbound(ctx, d, accept)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve sip: %w", err)
	}

	return nil
}

func callerOf(d *diago.DialogServerSession) string {
	if d.InviteRequest == nil {
		return ""
	}
	if from := d.InviteRequest.From(); from != nil {
		return from.Address.String()
	}
	return ""
}

// serveInbound runs for the lifetime of one inbound dialog.
func (e *DiagoEngine) serveInbound(ctx context.Context, d *diago.DialogServerSession, accept Acceptor) {
	s := e.newSession(callerOf(d), Inbound, nil)
	log := e.log.With("call_id", s.id, "caller", s.target)

	var h Handler
	if accept != nil {
		h = accept(s)
	}
	if h == nil {
		log.Info("inbound call rejected, busy")
		if err := d.Respond(486, "Busy Here", nil); err != nil {
			log.Warnw("busy response failed", "error", err)
		}
		return
	}
	if err := e.admit(s, h); err != nil {
		_ = d.Respond(503, "Service Unavailable", nil)
		return
	}
	defer e.forget(s)

	s.mu.Lock()
	s.server = d
	s.mu.Unlock()

	if err := d.Trying(); err != nil {
		log.Warnw("trying failed", "error", err)
	}
	if err := d.Ringing(); err != nil {
		log.Warnw("ringing failed", "error", err)
	}

	log.Info("inbound call ringing")
	s.transition(logic.CallRingingIn)

	select {
	case <-s.answer:
	case <-d.Context().Done():
		log.Info("caller gave up")
		s.transition(logic.CallEnded)
		return
	case <-s.hangup:
		log.Info("inbound call declined")
		_ = d.Respond(603, "Decline", nil)
		s.transition(logic.CallEnded)
		return
	case <-ctx.Done():
		_ = d.Respond(503, "Service Unavailable", nil)
		s.transition(logic.CallEnded)
		return
	}

	if err := d.Answer(); err != nil {
		log.Warnw("answer failed", "error", err)
		s.transition(logic.CallEnded)
		return
	}

	log.Info("inbound call answered")
	s.transition(logic.CallConnected)
	s.h.OnMediaStateChanged(s, true)

	select {
	case <-d.Context().Done():
		log.Info("caller hung up")
	case <-s.hangup:
		hctx, hcancel := context.WithTimeout(context.Background(), hangupTimeout)
		if err := d.Hangup(hctx); err != nil {
			log.Warnw("hangup failed", "error", err)
		}
		hcancel()
	case <-ctx.Done():
		hctx, hcancel := context.WithTimeout(context.Background(), hangupTimeout)
		_ = d.Hangup(hctx)
		hcancel()
	}

	s.h.OnMediaStateChanged(s, false)
	s.transition(logic.CallEnded)
}

// admit binds an accepted inbound session to its handler and tracks it. If
// the engine is closing the handler is told the call ended.
func (e *DiagoEngine) admit(s *diagoSession, h Handler) error {
	s.h = h

	if err := e.track(s); err != nil {
		s.transition(logic.CallEnded)
		return err
	}

	return nil
}

// Answer accepts a ringing inbound call.
func (e *DiagoEngine) Answer(_ context.Context, sess Session) error {
	s, err := e.lookup(sess)
	if err != nil {
		return err
	}

	if s.dir != Inbound || s.State() != logic.CallRingingIn {
		return ErrNotRinging
	}
	s.answerOnce.Do(func() { close(s.answer) })

	return nil
}

// Hangup ends the call: a pending INVITE is cancelled, a ringing inbound
// call is declined and a connected call is sent BYE.
func (e *DiagoEngine) Hangup(_ context.Context, sess Session) error {
	s, err := e.lookup(sess)
	if err != nil {
		return err
	}
	if !s.Valid() {
		return ErrSessionClosed
	}

	s.requestHangup()

	return nil
}

// Media returns the audio streams of a connected call.
func (e *DiagoEngine) Media(sess Session) (io.Reader, io.Writer, error) {
	s, err := e.lookup(sess)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	client, server := s.client, s.server
	s.mu.Unlock()

	switch {
	case client != nil:
		r, err := client.AudioReader()
		if err != nil {
			return nil, nil, fmt.Errorf("audio reader: %w", err)
		}
		w, err := client.AudioWriter()
		if err != nil {
			return nil, nil, fmt.Errorf("audio writer: %w", err)
		}
		return r, w, nil
	case server != nil:
		r, err := server.AudioReader()
		if err != nil {
			return nil, nil, fmt.Errorf("audio reader: %w", err)
		}
		w, err := server.AudioWriter()
		if err != nil {
			return nil, nil, fmt.Errorf("audio writer: %w", err)
		}
		return r, w, nil
	default:
		return nil, nil, ErrNoMedia
	}
}

// Close hangs up every call, waits for their goroutines and closes the
// user agent.
func (e *DiagoEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	sessions := make([]*diagoSession, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.requestHangup()
	}
	e.wg.Wait()

	if err := e.ua.Close(); err != nil {
		return fmt.Errorf("close sip user agent: %w", err)
	}

	return nil
}
