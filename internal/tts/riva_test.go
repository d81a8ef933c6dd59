package tts

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// fakeRiva answers with the request text as audio, split in two chunks when streaming.
type fakeRiva struct {
	schema *rivaSchema

	mu       sync.Mutex
	failures int
	calls    int
	last     map[string]any
	md       metadata.MD
}

func (f *fakeRiva) record(ctx context.Context, in *dynamicpb.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.md, _ = metadata.FromIncomingContext(ctx)
	f.last = map[string]any{
		"text":           in.Get(f.schema.text).String(),
		"language_code":  in.Get(f.schema.languageCode).String(),
		"encoding":       int32(in.Get(f.schema.encoding).Enum()),
		"sample_rate_hz": int32(in.Get(f.schema.sampleRate).Int()),
		"voice_name":     in.Get(f.schema.voiceName).String(),
	}
	if f.calls <= f.failures {
		return status.Error(codes.Unavailable, "stream interrupted")
	}
	return nil
}

func (f *fakeRiva) reply(audio []byte) *dynamicpb.Message {
	out := f.schema.newResponse()
	out.Set(f.schema.audio, protoreflect.ValueOfBytes(audio))
	return out
}

func fakeRivaDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: rivaService,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Synthesize",
			Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				f := srv.(*fakeRiva)
				in := dynamicpb.NewMessage(f.schema.request)
				if err := dec(in); err != nil {
					return nil, err
				}
				if err := f.record(ctx, in); err != nil {
					return nil, err
				}
				return f.reply([]byte(in.Get(f.schema.text).String())), nil
			},
		}},
		Streams: []grpc.StreamDesc{{
			StreamName:    "SynthesizeOnline",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				f := srv.(*fakeRiva)
				in := dynamicpb.NewMessage(f.schema.request)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				if err := f.record(stream.Context(), in); err != nil {
					return err
				}
				text := []byte(in.Get(f.schema.text).String())
				half := len(text) / 2
				if err := stream.SendMsg(f.reply(text[:half])); err != nil {
					return err
				}
				return stream.SendMsg(f.reply(text[half:]))
			},
		}},
	}
}

func startFakeRiva(t *testing.T, failures int) (*fakeRiva, *grpc.ClientConn) {
	t.Helper()
	schema, err := loadRivaSchema()
	require.NoError(t, err)

	fake := &fakeRiva{schema: schema, failures: failures}
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(fakeRivaDesc(), fake)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return fake, conn
}

func testRequest() SynthesisRequest {
	return SynthesisRequest{
		LanguageCode: "en-US",
		SampleRateHz: 48000,
		VoiceName:    "English-US.Female-1",
		Encoding:     EncodingLinearPCM,
		Text:         SSML("Hello there.", DefaultProsody()),
	}
}

func TestRivaUnaryCall(t *testing.T) {
	fake, conn := startFakeRiva(t, 0)
	riva, err := NewRivaSynthesizer(conn, RivaConfig{
		Timeout:  time.Second,
		Metadata: map[string]string{"authorization": "Bearer abc", "function-id": "tts"},
	}, discardLogger())
	require.NoError(t, err)

	req := testRequest()
	resp, err := riva.Synthesize(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, []byte(req.Text), resp.Audio)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Equal(t, map[string]any{
		"text":           req.Text,
		"language_code":  "en-US",
		"encoding":       int32(1),
		"sample_rate_hz": int32(48000),
		"voice_name":     "English-US.Female-1",
	}, fake.last)
	require.Equal(t, []string{"Bearer abc"}, fake.md.Get("authorization"))
	require.Equal(t, []string{"tts"}, fake.md.Get("function-id"))
}

func TestRivaStreamingCallConcatenatesChunks(t *testing.T) {
	_, conn := startFakeRiva(t, 0)
	riva, err := NewRivaSynthesizer(conn, RivaConfig{Streaming: true}, discardLogger())
	require.NoError(t, err)

	req := testRequest()
	resp, err := riva.Synthesize(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, []byte(req.Text), resp.Audio)
}

func TestRivaTransientFailuresAreRetried(t *testing.T) {
	for _, streaming := range []bool{false, true} {
		fake, conn := startFakeRiva(t, 4)
		riva, err := NewRivaSynthesizer(conn, RivaConfig{Streaming: streaming}, discardLogger())
		require.NoError(t, err)

		client := NewClient(riva, noWaitPolicy(), discardLogger())
		resp, err := client.Synthesize(context.Background(), testRequest())
		require.NoError(t, err)
		require.NotEmpty(t, resp.Audio)

		fake.mu.Lock()
		require.Equal(t, 5, fake.calls)
		fake.mu.Unlock()
	}
}

func TestRivaExhaustedRetries(t *testing.T) {
	fake, conn := startFakeRiva(t, 10)
	riva, err := NewRivaSynthesizer(conn, RivaConfig{}, discardLogger())
	require.NoError(t, err)

	_, err = NewClient(riva, noWaitPolicy(), discardLogger()).Synthesize(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrBackendUnavailable)

	fake.mu.Lock()
	require.Equal(t, 5, fake.calls)
	fake.mu.Unlock()
	require.True(t, riva.Healthy())
}
