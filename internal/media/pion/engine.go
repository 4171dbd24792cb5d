// Package pion implements the audio media engine on top of a WebRTC
// peer connection.
package pion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/cicareteam/callcore/internal/call"
)

// opusSilence is a single 20ms Opus frame decoding to silence. The
// pump keeps the track cadence alive with it while muted.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

// Source supplies encoded audio frames for the local track. NextFrame
// blocks until a frame is available and returns io.EOF when the device
// is gone.
type Source interface {
	NextFrame() (media.Sample, error)
	Close() error
}

// Config tunes the engine. All fields are optional.
type Config struct {
	// ICEServers are STUN/TURN URLs handed to the peer connection.
	ICEServers []string
	// OpenCapture acquires the audio device. It should return
	// call.ErrMicrophonePermission when the user denied access. A nil
	// OpenCapture runs the engine on a silent source.
	OpenCapture func() (Source, error)
	// GatherTimeout bounds candidate gathering when producing a
	// description. Defaults to 2 seconds.
	GatherTimeout time.Duration
}

// Engine is the call.MediaEngine implementation. One engine serves one
// call at a time; Reinitialize rebuilds the transport in place.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	api *webrtc.API

	pc       *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticSample
	source   Source
	muted    bool
	pumpStop chan struct{}

	candidateFn func(call.ICECandidate)
}

var _ call.MediaEngine = (*Engine)(nil)

// New builds an engine with Opus audio registered.
func New(cfg Config) (*Engine, error) {
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 2 * time.Second
	}
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}
	return &Engine{
		cfg: cfg,
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m)),
	}, nil
}

// SetCandidateHandler registers the trickle candidate receiver.
func (e *Engine) SetCandidateHandler(fn func(call.ICECandidate)) {
	e.mu.Lock()
	e.candidateFn = fn
	e.mu.Unlock()
}

// EnsureMicrophone acquires the capture device once. Later calls are
// no-ops while the device is held.
func (e *Engine) EnsureMicrophone() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureSourceLocked()
}

func (e *Engine) ensureSourceLocked() error {
	if e.source != nil {
		return nil
	}
	if e.cfg.OpenCapture == nil {
		e.source = silentSource{}
		return nil
	}
	src, err := e.cfg.OpenCapture()
	if err != nil {
		return err
	}
	e.source = src
	return nil
}

// ensurePeerLocked lazily builds the peer connection and local track.
func (e *Engine) ensurePeerLocked() error {
	if e.pc != nil {
		return nil
	}
	if err := e.ensureSourceLocked(); err != nil {
		return err
	}

	var iceServers []webrtc.ICEServer
	if len(e.cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: e.cfg.ICEServers}}
	}
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "callcore")
	if err != nil {
		pc.Close()
		return fmt.Errorf("new local track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return fmt.Errorf("add track: %w", err)
	}
	// Receive the far side's audio even before our track negotiates.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("add transceiver: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		e.mu.Lock()
		fn := e.candidateFn
		e.mu.Unlock()
		if fn == nil {
			return
		}
		cand := call.ICECandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		fn(cand)
	})
	pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		slog.Debug("[Media] ICE state change", "state", st.String())
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		slog.Debug("[Media] Remote track", "kind", remote.Kind().String())
		go drainRemote(remote)
	})

	stop := make(chan struct{})
	go e.pump(track, e.source, stop)

	e.pc = pc
	e.track = track
	e.pumpStop = stop
	return nil
}

// pump feeds capture frames into the local track, substituting silence
// while muted so the RTP cadence never stalls.
func (e *Engine) pump(track *webrtc.TrackLocalStaticSample, src Source, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		sample, err := src.NextFrame()
		if err != nil {
			if err != io.EOF {
				slog.Warn("[Media] Capture read failed", "error", err)
			}
			return
		}
		e.mu.Lock()
		muted := e.muted
		e.mu.Unlock()
		if muted {
			sample = media.Sample{Data: opusSilence, Duration: sample.Duration}
		}
		if err := track.WriteSample(sample); err != nil {
			if err != io.ErrClosedPipe {
				slog.Warn("[Media] Track write failed", "error", err)
			}
			return
		}
	}
}

// drainRemote consumes inbound RTP so the receiver's buffers and RTCP
// reports keep flowing. Playback is the platform audio layer's job.
func drainRemote(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			return
		}
	}
}

// CreateOffer produces a local offer with candidates gathered.
func (e *Engine) CreateOffer(ctx context.Context) (string, error) {
	return e.localDescription(ctx, false)
}

// CreateAnswer produces the local description answering a remote offer.
func (e *Engine) CreateAnswer(ctx context.Context) (string, error) {
	return e.localDescription(ctx, true)
}

func (e *Engine) localDescription(ctx context.Context, answering bool) (string, error) {
	e.mu.Lock()
	if err := e.ensurePeerLocked(); err != nil {
		e.mu.Unlock()
		return "", err
	}
	pc := e.pc
	e.mu.Unlock()

	var (
		desc webrtc.SessionDescription
		err  error
	)
	if answering {
		desc, err = pc.CreateAnswer(nil)
	} else {
		desc, err = pc.CreateOffer(nil)
	}
	if err != nil {
		return "", fmt.Errorf("create description: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	timeout, cancel := context.WithTimeout(ctx, e.cfg.GatherTimeout)
	defer cancel()
	select {
	case <-gathered:
	case <-timeout.Done():
		// Trickle covers what gathering did not finish in time.
	}

	local := pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("no local description after gathering")
	}
	return local.SDP, nil
}

// SetRemoteDescription validates and installs the far side's
// description. kind is "offer" or "answer".
func (e *Engine) SetRemoteDescription(ctx context.Context, kind, raw string) error {
	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(raw); err != nil {
		return fmt.Errorf("malformed session description: %w", err)
	}

	var sdpType webrtc.SDPType
	switch kind {
	case "offer":
		sdpType = webrtc.SDPTypeOffer
	case "answer":
		sdpType = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("unknown description kind %q", kind)
	}

	e.mu.Lock()
	if err := e.ensurePeerLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	pc := e.pc
	e.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: raw}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// SetMuted switches the pump between capture and silence frames.
func (e *Engine) SetMuted(muted bool) bool {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
	return true
}

// Reinitialize drops the peer connection and rebuilds it, keeping the
// capture device and mute state.
func (e *Engine) Reinitialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closePeerLocked()
	return e.ensurePeerLocked()
}

// Teardown releases the transport and the capture device.
func (e *Engine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closePeerLocked()
	if e.source != nil {
		if err := e.source.Close(); err != nil {
			slog.Warn("[Media] Capture close failed", "error", err)
		}
		e.source = nil
	}
	e.muted = false
}

func (e *Engine) closePeerLocked() {
	if e.pumpStop != nil {
		close(e.pumpStop)
		e.pumpStop = nil
	}
	if e.pc != nil {
		if err := e.pc.Close(); err != nil {
			slog.Warn("[Media] Peer connection close failed", "error", err)
		}
		e.pc = nil
		e.track = nil
	}
}

// silentSource paces out silence frames. It stands in when no capture
// device is configured, which keeps negotiation and transport behavior
// identical to a live device.
type silentSource struct{}

func (silentSource) NextFrame() (media.Sample, error) {
	time.Sleep(frameDuration)
	return media.Sample{Data: opusSilence, Duration: frameDuration}, nil
}

func (silentSource) Close() error { return nil }
