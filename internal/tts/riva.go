package tts

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	rivaService             = "nvidia.riva.tts.RivaSpeechSynthesis"
	methodSynthesize        = "/" + rivaService + "/Synthesize"
	methodSynthesizeOnline  = "/" + rivaService + "/SynthesizeOnline"
	rivaRequestMessageName  = "SynthesizeSpeechRequest"
	rivaResponseMessageName = "SynthesizeSpeechResponse"
)

// rivaSchema holds the subset of the Riva TTS protobuf schema the relay sends and reads.
// Field numbers match riva_tts.proto; unknown response fields are preserved and ignored.
type rivaSchema struct {
	request  protoreflect.MessageDescriptor
	response protoreflect.MessageDescriptor

	text, languageCode, encoding, sampleRate, voiceName protoreflect.FieldDescriptor
	audio                                               protoreflect.FieldDescriptor
}

func loadRivaSchema() (*rivaSchema, error) {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	field := func(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
		f := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(number),
			Label:  optional,
			Type:   typ.Enum(),
		}
		if typeName != "" {
			f.TypeName = proto.String(typeName)
		}
		return f
	}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("riva/proto/riva_tts.proto"),
		Package: proto.String("nvidia.riva.tts"),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("AudioEncoding"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("ENCODING_UNSPECIFIED"), Number: proto.Int32(0)},
				{Name: proto.String("LINEAR_PCM"), Number: proto.Int32(int32(EncodingLinearPCM))},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String(rivaRequestMessageName),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("text", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
					field("language_code", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
					field("encoding", 3, descriptorpb.FieldDescriptorProto_TYPE_ENUM, ".nvidia.riva.tts.AudioEncoding"),
					field("sample_rate_hz", 4, descriptorpb.FieldDescriptorProto_TYPE_INT32, ""),
					field("voice_name", 5, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
				},
			},
			{
				Name: proto.String(rivaResponseMessageName),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("audio", 1, descriptorpb.FieldDescriptorProto_TYPE_BYTES, ""),
				},
			},
		},
	}

	fd, err := protodesc.NewFile(fdp, new(protoregistry.Files))
	if err != nil {
		return nil, fmt.Errorf("build riva descriptor: %w", err)
	}
	req := fd.Messages().ByName(rivaRequestMessageName)
	resp := fd.Messages().ByName(rivaResponseMessageName)
	return &rivaSchema{
		request:      req,
		response:     resp,
		text:         req.Fields().ByName("text"),
		languageCode: req.Fields().ByName("language_code"),
		encoding:     req.Fields().ByName("encoding"),
		sampleRate:   req.Fields().ByName("sample_rate_hz"),
		voiceName:    req.Fields().ByName("voice_name"),
		audio:        resp.Fields().ByName("audio"),
	}, nil
}

func (s *rivaSchema) newRequest(req SynthesisRequest) *dynamicpb.Message {
	msg := dynamicpb.NewMessage(s.request)
	msg.Set(s.text, protoreflect.ValueOfString(req.Text))
	msg.Set(s.languageCode, protoreflect.ValueOfString(req.LanguageCode))
	msg.Set(s.encoding, protoreflect.ValueOfEnum(protoreflect.EnumNumber(req.Encoding)))
	msg.Set(s.sampleRate, protoreflect.ValueOfInt32(int32(req.SampleRateHz)))
	msg.Set(s.voiceName, protoreflect.ValueOfString(req.VoiceName))
	return msg
}

func (s *rivaSchema) newResponse() *dynamicpb.Message {
	return dynamicpb.NewMessage(s.response)
}

func (s *rivaSchema) audioOf(msg *dynamicpb.Message) []byte {
	return msg.Get(s.audio).Bytes()
}

type RivaConfig struct {
	Address string
	UseTLS  bool
	// Timeout bounds a single attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
	// Streaming selects SynthesizeOnline and concatenates its chunks.
	Streaming bool
	// Metadata is sent as gRPC headers on every call.
	Metadata map[string]string
}

// RivaSynthesizer calls the Riva speech synthesis service.
type RivaSynthesizer struct {
	conn   *grpc.ClientConn
	cfg    RivaConfig
	schema *rivaSchema
	md     metadata.MD
	logger *slog.Logger
}

// DialRiva creates a client connection. The connection is lazy; failures surface on the
// first call.
func DialRiva(cfg RivaConfig, log *slog.Logger) (*RivaSynthesizer, error) {
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	conn, err := grpc.NewClient(cfg.Address, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create riva client: %w", err)
	}
	r, err := NewRivaSynthesizer(conn, cfg, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func NewRivaSynthesizer(conn *grpc.ClientConn, cfg RivaConfig, log *slog.Logger) (*RivaSynthesizer, error) {
	schema, err := loadRivaSchema()
	if err != nil {
		return nil, err
	}
	md := metadata.MD{}
	for k, v := range cfg.Metadata {
		md.Append(k, v)
	}
	log.Info("riva backend configured",
		slog.String("address", cfg.Address),
		slog.Bool("tls", cfg.UseTLS),
		slog.Bool("streaming", cfg.Streaming))
	return &RivaSynthesizer{
		conn:   conn,
		cfg:    cfg,
		schema: schema,
		md:     md,
		logger: log.With(slog.String("component", "riva")),
	}, nil
}

func (r *RivaSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResponse, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	if len(r.md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, r.md)
	}
	if r.cfg.Streaming {
		return r.synthesizeOnline(ctx, req)
	}

	resp := r.schema.newResponse()
	if err := r.conn.Invoke(ctx, methodSynthesize, r.schema.newRequest(req), resp); err != nil {
		return SynthesisResponse{}, err
	}
	return SynthesisResponse{Audio: r.schema.audioOf(resp)}, nil
}

func (r *RivaSynthesizer) synthesizeOnline(ctx context.Context, req SynthesisRequest) (SynthesisResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: "SynthesizeOnline", ServerStreams: true}
	stream, err := r.conn.NewStream(ctx, desc, methodSynthesizeOnline)
	if err != nil {
		return SynthesisResponse{}, err
	}
	if err := stream.SendMsg(r.schema.newRequest(req)); err != nil {
		return SynthesisResponse{}, err
	}
	if err := stream.CloseSend(); err != nil {
		return SynthesisResponse{}, err
	}

	var audio []byte
	for {
		msg := r.schema.newResponse()
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return SynthesisResponse{}, err
		}
		audio = append(audio, r.schema.audioOf(msg)...)
	}
	return SynthesisResponse{Audio: audio}, nil
}

// Healthy reports false once the connection is shut down or failing.
func (r *RivaSynthesizer) Healthy() bool {
	if r == nil || r.conn == nil {
		return false
	}
	switch r.conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return false
	}
	return true
}

func (r *RivaSynthesizer) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
