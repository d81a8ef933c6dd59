package tts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts-relay/internal/bus"
	"github.com/loqalabs/loqa-tts-relay/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers tts.request messages on the bus. Audio is published as raw PCM, one
// chunk per sentence, followed by a status on tts.done.
type Service struct {
	bus     *bus.Client
	relay   *Relay
	timeout time.Duration
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	// mu guards closed and wg.Add so no request starts once Close is waiting.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewService(parent context.Context, busClient *bus.Client, relay *Relay, timeout time.Duration, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Service{
		bus:     busClient,
		relay:   relay,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

// Close stops accepting requests, cancels those in flight and waits for them.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil && s.bus.Healthy() }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("dropping tts request after close", slog.String("request_id", req.RequestID))
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		status := s.synthesize(ctx, req)
		s.publishStatus(msg, status)
	}()
}

func (s *Service) synthesize(ctx context.Context, req protocol.TTSRequest) protocol.TTSStatus {
	status := protocol.TTSStatus{RequestID: req.RequestID, Target: req.Target}

	params := Params{Text: req.Text, Voice: req.Voice}
	if req.Pitch != nil {
		v := Number(*req.Pitch)
		params.Pitch = &v
	}
	if req.Rate != nil {
		v := Number(*req.Rate)
		params.Rate = &v
	}
	reqs, err := s.relay.Build(params)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	logger := s.logger.With(slog.String("request_id", req.RequestID))
	logger.Info("bus synthesis started", slog.String("voice", reqs[0].VoiceName), slog.Int("sentences", len(reqs)))

	seq := 0
	for pcm, err := range s.relay.Responses(ctx, reqs) {
		if err != nil {
			logger.Warn("bus synthesis failed", slogError(err))
			status.Error = err.Error()
			return status
		}
		s.publishChunk(protocol.AudioChunk{
			RequestID:  req.RequestID,
			Target:     req.Target,
			Sequence:   seq,
			SampleRate: s.relay.SampleRate(),
			Channels:   1,
			PCM:        pcm,
			Final:      seq == len(reqs)-1,
		})
		seq++
	}
	status.Completed = true
	status.Sentences = seq
	return status
}

func (s *Service) publishChunk(chunk protocol.AudioChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		s.logger.Warn("failed to marshal tts chunk", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTTSAudio, data); err != nil {
		s.logger.Warn("failed to publish tts chunk", slogError(err))
	}
}

func (s *Service) publishStatus(msg *nats.Msg, status protocol.TTSStatus) {
	status.Timestamp = time.Now().UTC()
	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Warn("failed to marshal tts status", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTTSDone, data); err != nil {
		s.logger.Warn("failed to publish tts status", slogError(err))
	}
	if msg.Reply != "" {
		_ = msg.Respond(data)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
