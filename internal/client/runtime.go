// Package client orchestrates one voice session: it owns the transport, the
// capture and playback engines, the barge-in controller, and the turn
// tracker, and routes every normalised inbound message to the right consumer
// through a dispatch table keyed by message kind.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxwire/voxwire/internal/bargein"
	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/turns"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/audio/capture"
	"github.com/voxwire/voxwire/pkg/audio/playback"
	"github.com/voxwire/voxwire/pkg/protocol"
	"github.com/voxwire/voxwire/pkg/transport"
)

// transportRef is the capture engine's stable view of the current transport.
// A session reset swaps the underlying client without recreating the capture
// pipeline.
type transportRef struct {
	mu sync.Mutex
	tc *transport.Client
}

var _ capture.Sender = (*transportRef)(nil)

func (r *transportRef) set(tc *transport.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tc = tc
}

func (r *transportRef) get() *transport.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tc
}

func (r *transportRef) Send(ctx context.Context, data []byte) error {
	tc := r.get()
	if tc == nil {
		return transport.ErrNotConnected
	}
	return tc.Send(ctx, data)
}

func (r *transportRef) Connected() bool {
	tc := r.get()
	return tc != nil && tc.Connected()
}

// handler processes one normalised inbound message.
type handler func(ctx context.Context, m protocol.Message)

// Runtime owns all per-session state. One Runtime serves one user; its
// Session (and transport) are replaced on reset while the audio engines and
// trackers persist across sessions.
type Runtime struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics
	sink    Sink

	capture  *capture.Engine
	playback *playback.Engine
	barge    *bargein.Controller
	tracker  *turns.Tracker
	tref     *transportRef

	transportOpts []transport.Option
	handlers      map[protocol.Kind]handler

	mu      sync.Mutex
	session *Session
	started bool
	ctx     context.Context

	// pendingFrame is the audio_data header whose PCM payload arrives as the
	// next raw binary frame.
	pendingFrame *protocol.AudioFrameMeta

	// lastStatus tracks the previous transport status so the connection
	// gauge moves exactly once per edge.
	lastStatus transport.Status
}

// Option configures a [Runtime] during construction.
type Option func(*Runtime)

// WithSink sets the UI sink. Defaults to [NopSink].
func WithSink(s Sink) Option {
	return func(r *Runtime) { r.sink = s }
}

// WithLogger sets the runtime logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithTransportOptions passes extra options to every transport the runtime
// creates. Tests use this to inject a fake dialer.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(r *Runtime) { r.transportOpts = append(r.transportOpts, opts...) }
}

// NewRuntime assembles a runtime around the given input and output devices.
func NewRuntime(cfg *config.Config, mic capture.InputDevice, out playback.OutputDevice, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:  cfg,
		log:  slog.Default(),
		sink: NopSink{},
		tref: &transportRef{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}

	r.playback = playback.New(out)
	r.capture = capture.New(mic, r.tref,
		capture.WithBlockSize(cfg.Audio.BlockSize),
		capture.WithLevelReference(cfg.Audio.LevelReference),
		capture.WithOnDrop(func() {
			r.metrics.DroppedCaptureBlocks.Add(context.Background(), 1)
		}),
	)
	r.barge = bargein.NewController(r.playback,
		bargein.WithOnFinalize(func(ev *bargein.Event) {
			r.metrics.RecordBargeIn(context.Background(), string(ev.Trigger))
		}),
	)
	r.tracker = turns.NewTracker(
		turns.WithOnClose(func(t *turns.Turn) {
			r.metrics.RecordTurn(context.Background(),
				t.FirstTokenLatency.Seconds(),
				t.FinalLatency.Seconds(),
				t.TotalLatency.Seconds(),
			)
		}),
	)
	r.handlers = map[protocol.Kind]handler{
		protocol.KindUser:               r.handleUser,
		protocol.KindSTTPartial:         r.handleSTTPartial,
		protocol.KindAssistantStreaming: r.handleAssistantStreaming,
		protocol.KindAssistant:          r.handleAssistantFinal,
		protocol.KindStatus:             r.handleAssistantFinal,
		protocol.KindToolStart:          r.handleTool,
		protocol.KindToolProgress:       r.handleTool,
		protocol.KindToolEnd:            r.handleTool,
		protocol.KindControl:            r.handleControl,
		protocol.KindSessionEnd:         r.handleSessionEnd,
		protocol.KindLiveAgentTransfer:  r.handleLiveAgentTransfer,
		protocol.KindSessionProfile:     r.handleProfile,
		protocol.KindAudioData:          r.handleAudioData,
	}
	return r
}

// Session returns the current session, or nil before the first Start.
func (r *Runtime) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Start brings the session up: output context, microphone, then transport.
// Device failures are returned as recoverable errors; the runtime stays
// stopped and a later Start may succeed without a session reset. Transport
// failures are not errors here, they surface as status transitions.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	if r.session == nil {
		r.session = NewSession(r.cfg.Server.SessionID)
	}
	session := r.session
	r.ctx = ctx
	r.mu.Unlock()

	if err := r.playback.Init(); err != nil {
		return fmt.Errorf("client: output device: %w", err)
	}
	if err := r.capture.Start(ctx); err != nil {
		return fmt.Errorf("client: %w", err)
	}

	r.tracker.ResetForSession(session.ID)
	tc := r.newTransport()
	r.tref.set(tc)
	if err := tc.Start(ctx, session.ID); err != nil {
		r.capture.Stop()
		return fmt.Errorf("client: transport: %w", err)
	}

	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	r.log.Info("session started", "session_id", session.ID)
	return nil
}

// newTransport builds a transport client bound to the runtime's callbacks.
func (r *Runtime) newTransport() *transport.Client {
	opts := []transport.Option{
		transport.WithBackoff(r.cfg.Transport.BackoffBase.Std(), r.cfg.Transport.BackoffCap.Std()),
		transport.WithPingPeriod(r.cfg.Transport.PingInterval.Std()),
	}
	opts = append(opts, r.transportOpts...)
	tc := transport.New(r.cfg.Server.Endpoint, opts...)
	tc.OnMessage(r.dispatch)
	tc.OnStatus(r.onTransportStatus)
	return tc
}

// Stop performs a user-initiated stop: release the microphone, disable
// reconnection, close the socket with a normal-closure code, and silence
// playback. Idempotent.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	r.capture.Stop()
	if tc := r.tref.get(); tc != nil {
		tc.Close(websocket.StatusNormalClosure, "client stopped")
	}
	r.playback.Clear()
	r.log.Info("session stopped")
}

// Reset tears down the current session and starts a fresh one with a new id
// and a new transport. The audio engines persist; their queues are cleared.
func (r *Runtime) Reset(ctx context.Context) error {
	r.mu.Lock()
	wasStarted := r.started
	r.started = false
	old := r.session
	r.session = NewSession("")
	session := r.session
	r.pendingFrame = nil
	r.mu.Unlock()

	if tc := r.tref.get(); tc != nil {
		tc.Close(websocket.StatusNormalClosure, "session reset")
	}
	r.tref.set(nil)
	r.playback.Clear()
	r.barge.NotifyAudioStart()
	r.tracker.ResetForSession(session.ID)

	if old != nil {
		r.log.Info("session reset", "old_session_id", old.ID, "session_id", session.ID)
	}
	if !wasStarted {
		return nil
	}

	tc := r.newTransport()
	r.tref.set(tc)
	if err := tc.Start(ctx, session.ID); err != nil {
		return fmt.Errorf("client: transport: %w", err)
	}
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	return nil
}

// Close releases everything. The runtime cannot be restarted afterwards.
func (r *Runtime) Close() {
	r.Stop()
	if err := r.playback.Close(); err != nil {
		r.log.Warn("output device close", "err", err)
	}
}

// Snapshot returns the current session's turn history and aggregates.
func (r *Runtime) Snapshot() turns.Snapshot {
	return r.tracker.Snapshot()
}

// Connected reports whether the transport currently holds an open socket.
func (r *Runtime) Connected() bool {
	return r.tref.Connected()
}

// CaptureLevel returns the microphone level estimate in [0, 1].
func (r *Runtime) CaptureLevel() float64 {
	return r.capture.Level()
}

// PlaybackBuffered returns the number of output samples queued for rendering.
func (r *Runtime) PlaybackBuffered() int {
	return r.playback.Buffered()
}

// DroppedBlocks returns the number of capture blocks lost to reconnect gaps.
func (r *Runtime) DroppedBlocks() int64 {
	return r.capture.Dropped()
}

// BargeIns returns the number of finalized barge-in events.
func (r *Runtime) BargeIns() int {
	return r.barge.Count()
}

// dispatch is the transport's message callback: it normalises the frame and
// routes it through the handler table. Decode failures drop the frame.
func (r *Runtime) dispatch(f transport.Frame) {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	msg, err := protocol.Normalize(f.Data, f.Binary)
	if err != nil {
		r.metrics.RecordDecodeError(ctx)
		r.log.Warn("dropping undecodable frame", "err", err)
		return
	}

	if msg.Type == protocol.KindBinaryAudio {
		r.handleBinaryAudio(ctx, msg)
		return
	}

	h, ok := r.handlers[msg.Type]
	if !ok {
		r.log.Debug("unhandled message kind", "kind", msg.Type)
		return
	}
	h(ctx, msg)
}

// onTransportStatus forwards status edges to the sink and metrics.
func (r *Runtime) onTransportStatus(s transport.Status) {
	ctx := context.Background()

	r.mu.Lock()
	prev := r.lastStatus
	r.lastStatus = s
	r.mu.Unlock()

	if s == transport.StatusConnected && prev != transport.StatusConnected {
		r.metrics.ConnectionUp.Add(ctx, 1)
	}
	if s != transport.StatusConnected && prev == transport.StatusConnected {
		r.metrics.ConnectionUp.Add(ctx, -1)
	}
	if s == transport.StatusReconnecting {
		r.metrics.Reconnects.Add(ctx, 1)
	}
	r.sink.ConnectionStatus(s)
}

// --- message handlers ---

func (r *Runtime) handleUser(_ context.Context, m protocol.Message) {
	r.tracker.RegisterUserTurn(m.Text())
	r.sink.Transcript(m)
}

func (r *Runtime) handleSTTPartial(_ context.Context, m protocol.Message) {
	// A partial transcript while agent audio is in flight (or while an
	// interruption chain is already open) is a barge-in trigger.
	if r.playback.Playing() || r.barge.Pending() != nil {
		r.barge.Record(bargein.TriggerPartialTranscript, bargein.Meta{
			Stage:    "partial",
			Sequence: m.Sequence,
		})
	}
	r.sink.Transcript(m)
}

func (r *Runtime) handleAssistantStreaming(_ context.Context, m protocol.Message) {
	// The next assistant delta confirms a pending interruption's effect.
	r.barge.FinalizePending()
	r.tracker.RegisterAssistantStreaming(m.Speaker)
	r.sink.Transcript(m)
}

func (r *Runtime) handleAssistantFinal(_ context.Context, m protocol.Message) {
	r.tracker.RegisterAssistantFinal(m.Speaker)
	r.sink.Transcript(m)
}

func (r *Runtime) handleTool(_ context.Context, m protocol.Message) {
	if m.Tool == "" {
		// Anomalous tool event without a name. Filtered, not propagated.
		r.log.Debug("dropping tool event without a tool name", "kind", m.Type)
		return
	}
	r.sink.ToolEvent(m)
}

func (r *Runtime) handleControl(_ context.Context, m protocol.Message) {
	switch m.Action {
	case protocol.ActionTTSCancelled:
		r.barge.Interrupt(bargein.Meta{Signal: m.Action, Reason: m.Reason})
	case protocol.ActionAudioStop:
		r.playback.Clear()
		r.barge.FinalizePending()
	default:
		r.log.Debug("unhandled control action", "action", m.Action)
	}
}

func (r *Runtime) handleSessionEnd(_ context.Context, m protocol.Message) {
	if m.Reason == protocol.ReasonHumanHandoff {
		// Terminal handoff: the socket may still close uncleanly afterwards,
		// but no reconnection must follow.
		if tc := r.tref.get(); tc != nil {
			tc.DisableReconnect()
		}
		r.capture.Stop()
	}
	r.log.Info("session ended by server", "reason", m.Reason)
	r.sink.SessionEnded(m.Reason)
}

func (r *Runtime) handleLiveAgentTransfer(_ context.Context, _ protocol.Message) {
	if tc := r.tref.get(); tc != nil {
		tc.DisableReconnect()
	}
	r.capture.Stop()
	r.log.Info("transferred to live agent")
	r.sink.SessionEnded(string(protocol.KindLiveAgentTransfer))
}

func (r *Runtime) handleProfile(_ context.Context, m protocol.Message) {
	r.sink.Profile(m.Profile)
}

// handleAudioData processes a JSON audio frame. With an inline base64
// payload it plays immediately; without one it becomes the header for the
// next raw binary frame.
func (r *Runtime) handleAudioData(ctx context.Context, m protocol.Message) {
	if m.Data == "" {
		meta := m.AudioFrameMeta
		r.mu.Lock()
		r.pendingFrame = &meta
		r.mu.Unlock()
		return
	}
	pcm, err := m.PCM()
	if err != nil {
		r.metrics.RecordDecodeError(ctx)
		r.log.Warn("dropping audio frame with bad payload", "err", err)
		return
	}
	r.playFrame(m.AudioFrameMeta, pcm)
}

// handleBinaryAudio pairs a raw binary frame with the preceding audio_data
// header. A frame with no header plays with default framing.
func (r *Runtime) handleBinaryAudio(_ context.Context, m protocol.Message) {
	r.mu.Lock()
	meta := r.pendingFrame
	r.pendingFrame = nil
	r.mu.Unlock()

	if meta == nil {
		meta = &protocol.AudioFrameMeta{}
	}
	r.playFrame(*meta, m.Binary)
}

// playFrame enqueues one inbound PCM frame and stamps the turn timeline.
func (r *Runtime) playFrame(meta protocol.AudioFrameMeta, pcm []byte) {
	if meta.FrameIndex == 0 {
		// New agent utterance: close out any open interruption chain before
		// the playback state machine restarts.
		r.barge.FinalizePending()
		r.barge.NotifyAudioStart()
	}

	rate := meta.SampleRate
	if rate == 0 {
		rate = r.cfg.Audio.PlaybackRate
	}
	r.playback.Enqueue(audio.BytesToInt16(pcm), rate, meta.Final())
	r.tracker.RegisterAudioFrame(meta.FrameIndex, meta.Final())
}
