package recording

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/peercall/internal/call"
	"github.com/artpar/peercall/internal/protocol"
)

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "call.jsonl")

	r, err := NewRecorder(path, "offer", "720p")
	require.NoError(t, err)
	require.NoError(t, r.WritePhase(call.PhaseConnected))
	require.NoError(t, r.WriteMessage(call.Message{From: call.SenderMe, Content: "hi", Type: protocol.ContentText}))
	require.NoError(t, r.WriteMessage(call.Message{
		From: call.SenderPeer, Content: "data:text/plain;base64,aGk=", Type: protocol.ContentFile, FileName: "a.txt",
	}))
	require.NoError(t, r.WriteQuality(call.QualityGood))
	require.NoError(t, r.Close())
	assert.Equal(t, path, r.Path())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	rec, err := LoadRecording(path)
	require.NoError(t, err)
	assert.Equal(t, "offer", rec.Header.Role)
	assert.Equal(t, "720p", rec.Header.Preset)
	require.Equal(t, 4, rec.EventCount())

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, KindSent, msgs[0].Kind)
	assert.Equal(t, "hi", msgs[0].Data)
	assert.Empty(t, msgs[0].Name)
	assert.Equal(t, KindReceived, msgs[1].Kind)
	assert.Equal(t, "a.txt", msgs[1].Name)
	assert.Empty(t, msgs[1].Data)
}

func TestRecorderClosed(t *testing.T) {
	r, err := NewRecorder(filepath.Join(t.TempDir(), "c.jsonl"), "answer", "")
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.ErrorIs(t, r.WritePhase(call.PhaseIdle), ErrClosed)
}

func TestReadRecordingSkipsMalformedEvents(t *testing.T) {
	input := strings.Join([]string{
		`{"version":1,"timestamp":1}`,
		`[0.5,"me","one"]`,
		`not json`,
		`[1,"peer"]`,
		`[1.5,"peer","two"]`,
	}, "\n")

	rec, err := ReadRecording(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rec.Events, 2)
	assert.Equal(t, 1500*time.Millisecond, rec.Duration())
}

func TestReadRecordingRejects(t *testing.T) {
	_, err := ReadRecording(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ReadRecording(strings.NewReader("{bad"))
	assert.Error(t, err)

	_, err = ReadRecording(strings.NewReader(`{"version":7}`))
	assert.Error(t, err)
}

func TestPlayerInstant(t *testing.T) {
	rec := &Recording{
		Header: newHeader("offer", "", ""),
		Events: []Event{
			{Time: 0.1, Kind: KindPhase, Data: "connected"},
			{Time: 30, Kind: KindSent, Data: "hello"},
			{Time: 60, Kind: KindReceived, Name: "f.bin"},
		},
	}

	var out bytes.Buffer
	p := NewPlayer(rec, &out)
	p.SetSpeed(0)
	require.NoError(t, p.Play(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "me: hello")
	assert.Contains(t, lines[1], "peer: <f.bin>")

	out.Reset()
	p.ShowState(true)
	require.NoError(t, p.Play(context.Background()))
	assert.Contains(t, out.String(), "-- connected")
}

func TestPlayerCancelled(t *testing.T) {
	rec := &Recording{Events: []Event{{Time: 10, Kind: KindSent, Data: "late"}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := NewPlayer(rec, &out).Play(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String())
}

func TestGenerateRecordingPath(t *testing.T) {
	p := GenerateRecordingPath("offer")
	assert.True(t, strings.HasSuffix(p, "_offer.jsonl"))
	assert.Equal(t, GetRecordingsDir(), filepath.Dir(p))
}
