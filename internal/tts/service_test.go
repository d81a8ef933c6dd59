package tts

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tts-relay/internal/bus"
	"github.com/loqalabs/loqa-tts-relay/internal/config"
	"github.com/loqalabs/loqa-tts-relay/internal/natsserver"
	"github.com/loqalabs/loqa-tts-relay/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	ns, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{ns.ClientURL()},
		ConnectTimeout: 2000,
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestServicePublishesSentenceAudio(t *testing.T) {
	client := startBus(t)
	var sessions []*countingSession
	relay := newTestRelay(&pcmBackend{}, &sessions)

	svc := NewService(context.Background(), client, relay, time.Second, discardLogger())
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)

	audioSub, err := client.Conn().SubscribeSync(protocol.SubjectTTSAudio)
	require.NoError(t, err)
	require.NoError(t, client.Conn().Flush())

	rate := 1.0
	data, err := json.Marshal(protocol.TTSRequest{RequestID: "bus-1", Target: "kitchen", Text: "One. Two.", Rate: &rate})
	require.NoError(t, err)
	reply, err := client.Conn().Request(protocol.SubjectTTSRequest, data, 2*time.Second)
	require.NoError(t, err)

	var status protocol.TTSStatus
	require.NoError(t, json.Unmarshal(reply.Data, &status))
	require.True(t, status.Completed)
	require.Equal(t, "bus-1", status.RequestID)
	require.Equal(t, 2, status.Sentences)
	require.True(t, svc.Healthy())

	for i := 0; i < 2; i++ {
		msg, err := audioSub.NextMsg(time.Second)
		require.NoError(t, err)
		var chunk protocol.AudioChunk
		require.NoError(t, json.Unmarshal(msg.Data, &chunk))
		require.Equal(t, i, chunk.Sequence)
		require.Equal(t, "kitchen", chunk.Target)
		require.Equal(t, 16000, chunk.SampleRate)
		require.NotEmpty(t, chunk.PCM)
		require.Equal(t, i == 1, chunk.Final)
	}
	require.Empty(t, sessions)
}

func TestServiceReportsInvalidRequest(t *testing.T) {
	client := startBus(t)
	var sessions []*countingSession
	backend := &pcmBackend{}
	svc := NewService(context.Background(), client, newTestRelay(backend, &sessions), time.Second, discardLogger())
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)

	data, err := json.Marshal(protocol.TTSRequest{Text: "  "})
	require.NoError(t, err)
	reply, err := client.Conn().Request(protocol.SubjectTTSRequest, data, 2*time.Second)
	require.NoError(t, err)

	var status protocol.TTSStatus
	require.NoError(t, json.Unmarshal(reply.Data, &status))
	require.False(t, status.Completed)
	require.NotEmpty(t, status.RequestID)
	require.Contains(t, status.Error, ErrInvalidRequest.Error())
	require.EqualValues(t, 0, backend.calls.Load())
}

func TestServiceIgnoresRequestsAfterClose(t *testing.T) {
	client := startBus(t)
	var sessions []*countingSession
	backend := &pcmBackend{}
	svc := NewService(context.Background(), client, newTestRelay(backend, &sessions), time.Second, discardLogger())
	require.NoError(t, svc.Start())

	doneSub, err := client.Conn().SubscribeSync(protocol.SubjectTTSDone)
	require.NoError(t, err)
	require.NoError(t, client.Conn().Flush())

	svc.Close()
	svc.Close()

	data, err := json.Marshal(protocol.TTSRequest{RequestID: "late", Text: "Too late."})
	require.NoError(t, err)
	svc.handleRequest(&nats.Msg{Subject: protocol.SubjectTTSRequest, Data: data})

	_, err = doneSub.NextMsg(200 * time.Millisecond)
	require.ErrorIs(t, err, nats.ErrTimeout)
	require.EqualValues(t, 0, backend.calls.Load())
}
