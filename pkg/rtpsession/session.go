// Package rtpsession implements the per-call RTP encode/decode loop (spec
// §4.5): a dedicated goroutine that reads PCM from the microphone ring
// buffer, resamples, encodes, sends immediately, and on the receive side
// decodes and pushes to the voice ring buffer, at a strict period derived
// from the codec's frame size.
//
// Grounded on the teacher's pkg/rtp/rtp_session.go (session lifecycle,
// atomic counters) and pkg/rtp/transport_udp.go (symmetric UDP binding),
// generalized to drive ring buffers and a resampler as spec §4.5 requires
// instead of exposing raw Send/Recv to the caller.
package rtpsession

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/voiplink/core/internal/codec"
	"github.com/voiplink/core/internal/ringbuffer"
	"github.com/voiplink/core/internal/resample"
	"github.com/voiplink/core/internal/voiplog"
)

// Recorder receives post-resample audio for recording (spec §4.5
// "Recording"). Mic and speaker buffers are handed separately so a
// recorder can mix or store dual-channel.
type Recorder interface {
	AppendMic(samples []int16)
	AppendSpeaker(samples []int16)
}

// Config parametrizes one RTP session.
type Config struct {
	LocalIP    string
	LocalPort  int
	RemoteIP   string
	RemotePort int

	Codec     codec.Codec
	LayerRate uint32 // hardware/ring-buffer sample rate

	Mic   *ringbuffer.Buffer
	Voice *ringbuffer.Buffer

	Recorder Recorder // optional
	Logger   voiplog.Logger
}

// Session is one symmetric RTP session bound to a call.
type Session struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr

	codec     codec.Codec
	layerRate uint32

	toCodec   *resample.Converter // layer rate -> codec rate
	fromCodec *resample.Converter // codec rate -> layer rate

	mic   *ringbuffer.Buffer
	voice *ringbuffer.Buffer

	recorder Recorder
	logger   voiplog.Logger

	ssrc      uint32
	seq       uint16
	timestamp uint32

	recording int32 // atomic bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	packetsSent, packetsReceived uint64 // atomic
}

// New binds a symmetric UDP socket and prepares the resamplers for cfg.
func New(cfg Config) (*Session, error) {
	if cfg.Codec == nil {
		return nil, fmt.Errorf("rtpsession: codec is required")
	}
	localAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.LocalIP, cfg.LocalPort))
	if err != nil {
		return nil, fmt.Errorf("rtpsession: resolve local addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("rtpsession: listen: %w", err)
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.RemoteIP, cfg.RemotePort))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rtpsession: resolve remote addr: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = voiplog.Default()
	}

	ssrc, err := randomUint32()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rtpsession: generate SSRC: %w", err)
	}
	seq, err := randomUint16()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rtpsession: generate sequence number: %w", err)
	}

	clockRate := cfg.Codec.Capability().ClockRate
	return &Session{
		conn:       conn,
		remoteAddr: remoteAddr,
		codec:      cfg.Codec,
		layerRate:  cfg.LayerRate,
		toCodec:    resample.New(cfg.LayerRate, clockRate),
		fromCodec:  resample.New(clockRate, cfg.LayerRate),
		mic:        cfg.Mic,
		voice:      cfg.Voice,
		recorder:   cfg.Recorder,
		logger:     logger.WithComponent("rtpsession"),
		ssrc:       ssrc,
		seq:        seq,
	}, nil
}

// SetRecording toggles recording on/off without restarting the loop.
func (s *Session) SetRecording(on bool) {
	v := int32(0)
	if on {
		v = 1
	}
	atomic.StoreInt32(&s.recording, v)
}

// Start launches the per-call RTP thread (spec §4.5, §5: "One RTP thread
// per active call"). The loop runs until ctx is canceled or a write error
// makes it terminate and report via onFatal.
func (s *Session) Start(ctx context.Context, onFatal func(error)) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	cap := s.codec.Capability()
	period := time.Duration(float64(cap.FrameSize) / float64(cap.ClockRate) * float64(time.Second))
	layerFrameBytes := int(float64(cap.FrameSize) / float64(cap.ClockRate) * float64(s.layerRate) * 2)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if err := s.tick(layerFrameBytes, cap.FrameSize); err != nil {
				s.logger.Error(ctx, "rtp send failed, terminating loop", err)
				if onFatal != nil {
					onFatal(err)
				}
				return
			}
		}
	}()
}

// tick runs one iteration of the loop in spec §4.5: read mic PCM,
// downsample if needed, encode, send immediately with a monotonically
// increasing timestamp, then drain one received packet if present.
func (s *Session) tick(layerFrameBytes, codecFrameSamples int) error {
	raw := make([]byte, layerFrameBytes)
	n := 0
	if s.mic != nil {
		n = s.mic.Get(raw)
	}
	micSamples := resample.PCMBytesToSamples(raw[:n])

	codecSamples := s.toCodec.Convert(micSamples)
	if len(codecSamples) < codecFrameSamples {
		padded := make([]int16, codecFrameSamples)
		copy(padded, codecSamples)
		codecSamples = padded
	} else if len(codecSamples) > codecFrameSamples {
		codecSamples = codecSamples[:codecFrameSamples]
	}

	payload, err := s.codec.Encode(codecSamples)
	if err != nil {
		// Missing/incompatible codec for this cycle: skip send/receive but
		// keep the loop alive (spec §4.5 failure policy).
		s.logger.Warn(context.Background(), "codec encode skipped this cycle", voiplog.F("error", err.Error()))
		return nil
	}
	if sendErr := s.sendNow(payload); sendErr != nil {
		return sendErr
	}

	recvPacket, recvOK := s.tryReceive()
	recording := atomic.LoadInt32(&s.recording) == 1

	var speakerSamples []int16
	if recvOK {
		decoded, decErr := s.codec.Decode(recvPacket.Payload)
		if decErr != nil {
			s.logger.Warn(context.Background(), "codec decode skipped this cycle", voiplog.F("error", decErr.Error()))
		} else {
			speakerSamples = s.fromCodec.Convert(decoded)
			if s.voice != nil {
				s.voice.Put(resample.SamplesToPCMBytes(speakerSamples))
			}
		}
	}

	if recording && s.recorder != nil {
		s.recorder.AppendMic(micSamples)
		if recvOK {
			s.recorder.AppendSpeaker(speakerSamples)
		}
		// While the far end is silent, only the mic side is recorded
		// (spec §4.5 "Recording").
	}

	return nil
}

// sendNow serializes and writes one RTP packet, bypassing any send queue,
// and advances the monotonic timestamp by exactly frameSize samples
// (spec §8 testable property: strictly increasing, constant-stride
// timestamps).
func (s *Session) sendNow(payload []byte) error {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.codec.Capability().PayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("rtpsession: marshal: %w", err)
	}
	if _, err := s.conn.WriteToUDP(buf, s.remoteAddr); err != nil {
		return fmt.Errorf("rtpsession: write: %w", err)
	}
	s.seq++
	s.timestamp += uint32(s.codec.Capability().FrameSize)
	atomic.AddUint64(&s.packetsSent, 1)
	return nil
}

// tryReceive performs one non-blocking read attempt for the dequeue step
// of spec §4.5 step 5. Absence of a ready packet is not an error — the
// caller treats it as "far end silent".
func (s *Session) tryReceive() (*rtp.Packet, bool) {
	_ = s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	buf := make([]byte, 1500)
	n, _, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, false
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf[:n]); err != nil {
		return nil, false
	}
	atomic.AddUint64(&s.packetsReceived, 1)
	return pkt, true
}

// Stop cancels the loop and joins the goroutine before returning, per the
// cancellation discipline in spec §5.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	_ = s.conn.Close()
}

func randomUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func randomUint16() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
