// Package callflow turns hub call commands into paired voice calls: it
// synthesizes the announcement, rings the companion app and reports call
// progress back to the hub.
package callflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/iris/internal/call"
	"github.com/ent0n29/iris/internal/history"
	"github.com/ent0n29/iris/internal/hub"
	"github.com/ent0n29/iris/internal/logging"
	"github.com/ent0n29/iris/internal/notification"
	"github.com/ent0n29/iris/internal/observability"
	"github.com/ent0n29/iris/internal/reliability"
	"github.com/ent0n29/iris/internal/speech"
)

// Progress states reported to the hub in addition to the terminal call states.
const (
	StateRinging = "ringing"
	StateFailed  = "failed"
	StateReply   = "reply"
	StateDTMF    = "dtmf"
	StateAccept  = "accepted"
	// StateCancelled marks calls dropped by shutdown or an operator hangup
	// before the companion connected.
	StateCancelled = "cancelled"
)

const (
	defaultRetryBase = 250 * time.Millisecond
	defaultRetryCap  = 2 * time.Second
	historyTimeout   = 5 * time.Second
)

var (
	ErrShuttingDown = errors.New("call service is shutting down")
	ErrCallNotFound = errors.New("call not found")
)

// Hub is the outbound side of the hub gateway. *hub.Router implements it.
type Hub interface {
	TriggerCall(target, url string) error
	ClearNotification(target, tag string) error
	CallState(u hub.CallStateUpdate) error
}

// Registry issues pairing tokens. *pairing.Registry implements it.
type Registry interface {
	Expect(opts call.Options) (string, *call.Call, error)
	Cancel(token string)
}

type Options struct {
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	History       history.Store
	ServerURL     string
	Language      string
	RetryAttempts int
	RetryBase     time.Duration
	RetryCap      time.Duration
}

type Service struct {
	registry Registry
	hub      Hub
	speech   speech.Converter
	history  history.Store
	metrics  *observability.Metrics
	logger   *zap.Logger

	serverURL     string
	language      string
	retryAttempts int
	retryBase     time.Duration
	retryCap      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	live map[string]*liveCall
}

// liveCall tracks one call from token issue until its outcome is recorded.
type liveCall struct {
	call      *call.Call
	token     string
	target    string
	text      string
	language  string
	actions   []notification.Action
	startedAt time.Time

	// Guarded by Service.mu.
	audio   []byte
	replies []string
	digits  []string
	done    bool
}

// Summary describes a live call.
type Summary struct {
	CallID    string    `json:"call_id"`
	Target    string    `json:"target"`
	Text      string    `json:"text"`
	State     string    `json:"state"`
	Replies   []string  `json:"replies,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

func New(registry Registry, h Hub, converter speech.Converter, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = defaultRetryBase
	}
	if opts.RetryCap <= 0 {
		opts.RetryCap = defaultRetryCap
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		registry:      registry,
		hub:           h,
		speech:        converter,
		history:       opts.History,
		metrics:       opts.Metrics,
		logger:        logger.Named("callflow"),
		serverURL:     opts.ServerURL,
		language:      opts.Language,
		retryAttempts: opts.RetryAttempts,
		retryBase:     opts.RetryBase,
		retryCap:      opts.RetryCap,
		ctx:           ctx,
		cancel:        cancel,
		live:          make(map[string]*liveCall),
	}
}

// HandleCall issues a pairing token for a new call and returns its id.
// Synthesis and ringing continue in the background.
func (s *Service) HandleCall(_ context.Context, target string, p hub.CallPayload) (string, error) {
	if s.ctx.Err() != nil {
		return "", ErrShuttingDown
	}
	lang := strings.TrimSpace(p.Language)
	if lang == "" {
		lang = s.language
	}

	token, c, err := s.registry.Expect(call.Options{})
	if err != nil {
		return "", fmt.Errorf("issue call token: %w", err)
	}
	lc := &liveCall{
		call:      c,
		token:     token,
		target:    target,
		text:      p.Text,
		language:  lang,
		actions:   p.Actions,
		startedAt: c.CreatedAt(),
	}
	s.bindEvents(lc)

	s.mu.Lock()
	s.live[c.ID()] = lc
	s.mu.Unlock()

	s.logger.Info("call requested", zap.String("call_id", c.ID()), zap.String("target", target))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ring(lc)
	}()
	return c.ID(), nil
}

func (s *Service) ring(lc *liveCall) {
	var synth speech.Synthesis
	err := s.withRetry(func(ctx context.Context) error {
		start := time.Now()
		out, err := s.speech.Synthesize(ctx, lc.text, lc.language)
		s.metrics.ObserveSpeech("synthesize", time.Since(start), err)
		if err != nil {
			return err
		}
		synth = out
		return nil
	})
	if err != nil {
		s.logger.Error("call synthesis failed", zap.String("call_id", lc.call.ID()), zap.Error(err))
		s.abort(lc, StateFailed, err)
		return
	}

	s.mu.Lock()
	lc.audio = synth.Audio
	done := lc.done
	s.mu.Unlock()
	if done {
		return
	}

	url := callURL(s.serverURL, lc.token)
	if err := s.hub.TriggerCall(lc.target, url); err != nil {
		s.logger.Error("call trigger failed", zap.String("call_id", lc.call.ID()), zap.Error(err))
		s.abort(lc, StateFailed, err)
		return
	}
	s.logger.Info("call ringing",
		zap.String("call_id", lc.call.ID()),
		zap.String("url", logging.RedactString(url)),
		zap.Int("audio_bytes", len(synth.Audio)),
	)
	s.report(lc, hub.CallStateUpdate{State: StateRinging})
}

func (s *Service) withRetry(fn func(context.Context) error) error {
	return reliability.Retry(s.ctx, s.retryAttempts, s.retryBase, s.retryCap, reliability.IsRetryableSpeechError, fn)
}

// abort drops a call that never reached its companion.
func (s *Service) abort(lc *liveCall, state string, cause error) {
	s.registry.Cancel(lc.token)
	s.finish(lc, state, cause)
}

func (s *Service) bindEvents(lc *liveCall) {
	c := lc.call
	c.On(call.EventConnected, func(call.Event) {
		s.report(lc, hub.CallStateUpdate{State: string(call.StateConnected)})
		s.mu.Lock()
		pcm := lc.audio
		s.mu.Unlock()
		if len(pcm) == 0 {
			return
		}
		if err := c.Send(call.Audio(pcm)); err != nil {
			s.logger.Warn("play announcement failed", zap.String("call_id", c.ID()), zap.Error(err))
		}
	})
	c.On(call.EventAccepted, func(call.Event) {
		s.report(lc, hub.CallStateUpdate{State: StateAccept})
	})
	c.On(call.EventRejected, func(call.Event) {
		s.finish(lc, string(call.StateRejected), nil)
		c.Hangup()
	})
	c.On(call.EventEnded, func(call.Event) {
		s.finish(lc, string(call.StateEnded), nil)
		c.Hangup()
	})
	c.On(call.EventDTMF, func(ev call.Event) {
		s.mu.Lock()
		lc.digits = append(lc.digits, ev.Digit)
		s.mu.Unlock()
		s.report(lc, hub.CallStateUpdate{State: StateDTMF, Digit: ev.Digit, Action: actionForDigit(lc.actions, ev.Digit)})
	})
	c.On(call.EventAudio, func(ev call.Event) {
		s.transcribe(lc, ev.Audio)
	})
	c.On(call.EventError, func(ev call.Event) {
		s.logger.Debug("companion protocol error", zap.String("call_id", c.ID()), zap.Error(ev.Err))
	})
	c.On(call.EventTimeout, func(call.Event) {
		s.finish(lc, string(call.StateTimedOut), nil)
	})
	c.On(call.EventDisconnected, func(call.Event) {
		s.finish(lc, string(call.StateDisconnected), nil)
	})
}

// transcribe runs on the call's own event goroutine, so it only holds up
// frames of this call.
func (s *Service) transcribe(lc *liveCall, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	var text string
	err := s.withRetry(func(ctx context.Context) error {
		start := time.Now()
		out, err := s.speech.Transcribe(ctx, pcm, lc.language)
		s.metrics.ObserveSpeech("transcribe", time.Since(start), err)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		s.logger.Warn("reply transcription failed", zap.String("call_id", lc.call.ID()), zap.Error(err))
		s.report(lc, hub.CallStateUpdate{State: StateReply, Error: err.Error()})
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	lc.replies = append(lc.replies, text)
	s.mu.Unlock()
	s.report(lc, hub.CallStateUpdate{State: StateReply, Text: text})
}

// finish records the first terminal outcome of a call; later ones are ignored.
func (s *Service) finish(lc *liveCall, state string, cause error) {
	s.mu.Lock()
	if lc.done {
		s.mu.Unlock()
		return
	}
	lc.done = true
	delete(s.live, lc.call.ID())
	rec := history.Record{
		CallID:    lc.call.ID(),
		Target:    lc.target,
		Text:      lc.text,
		State:     state,
		Replies:   append([]string(nil), lc.replies...),
		Digits:    append([]string(nil), lc.digits...),
		StartedAt: lc.startedAt,
		EndedAt:   time.Now().UTC(),
	}
	s.mu.Unlock()

	update := hub.CallStateUpdate{State: state}
	if cause != nil {
		rec.Error = cause.Error()
		update.Error = rec.Error
	}
	s.metrics.ObserveCallOutcome(state)
	s.report(lc, update)
	if err := s.hub.ClearNotification(lc.target, "call-"+lc.call.ID()); err != nil {
		s.logger.Warn("clear call notification failed", zap.String("call_id", rec.CallID), zap.Error(err))
	}
	s.logger.Info("call finished",
		zap.String("call_id", rec.CallID),
		zap.String("target", rec.Target),
		zap.String("state", state),
		zap.Int("replies", len(rec.Replies)),
	)

	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.history.Save(ctx, rec); err != nil {
		s.logger.Warn("save call history failed", zap.String("call_id", rec.CallID), zap.Error(err))
	}
}

func (s *Service) report(lc *liveCall, u hub.CallStateUpdate) {
	u.CallID = lc.call.ID()
	u.Target = lc.target
	if err := s.hub.CallState(u); err != nil {
		s.logger.Warn("report call state failed",
			zap.String("call_id", u.CallID),
			zap.String("state", u.State),
			zap.Error(err),
		)
	}
}

// Hangup ends a live call. A connected companion is told to hang up first.
func (s *Service) Hangup(callID string) error {
	s.mu.Lock()
	lc, ok := s.live[callID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	s.hangup(lc)
	return nil
}

func (s *Service) hangup(lc *liveCall) {
	if !lc.call.Attached() {
		s.abort(lc, StateCancelled, nil)
		return
	}
	if err := lc.call.Send(call.End()); err != nil {
		s.logger.Debug("send end failed", zap.String("call_id", lc.call.ID()), zap.Error(err))
	}
	s.finish(lc, string(call.StateEnded), nil)
	lc.call.Hangup()
}

// Live lists calls that have not reached an outcome yet, oldest first.
func (s *Service) Live() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Summary, 0, len(s.live))
	for _, lc := range s.live {
		out = append(out, Summary{
			CallID:    lc.call.ID(),
			Target:    lc.target,
			Text:      lc.text,
			State:     string(lc.call.State()),
			Replies:   append([]string(nil), lc.replies...),
			StartedAt: lc.startedAt,
		})
	}
	sortSummaries(out)
	return out
}

// Shutdown stops accepting calls, hangs up every live call and waits for
// background work until ctx is done.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	calls := make([]*liveCall, 0, len(s.live))
	for _, lc := range s.live {
		calls = append(calls, lc)
	}
	s.mu.Unlock()
	for _, lc := range calls {
		s.hangup(lc)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sortSummaries(out []Summary) {
	slices.SortFunc(out, func(a, b Summary) int { return a.StartedAt.Compare(b.StartedAt) })
}

func callURL(serverURL, token string) string {
	sep := "?"
	if strings.Contains(serverURL, "?") {
		sep = "&"
	}
	return serverURL + sep + "token=" + token
}

// actionForDigit maps keypad digit n to the id of the n-th action.
func actionForDigit(actions []notification.Action, digit string) string {
	n, err := strconv.Atoi(strings.TrimSpace(digit))
	if err != nil || n < 1 || n > len(actions) {
		return ""
	}
	return actions[n-1].ID
}
