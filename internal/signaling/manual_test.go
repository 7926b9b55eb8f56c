package signaling

import (
	"bytes"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/peercall/internal/protocol"
)

const testSDP = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\na=candidate:1 1 udp 2130706431 192.168.1.5 50000 typ host\r\n"

func testBlob(t *testing.T, typ webrtc.SDPType) string {
	t.Helper()
	blob, err := protocol.EncodeDescription(webrtc.SessionDescription{Type: typ, SDP: testSDP})
	require.NoError(t, err)
	return blob
}

func TestPresentShowsLinkAndCode(t *testing.T) {
	var out bytes.Buffer
	m := NewManual(strings.NewReader(""), &out, "https://call.example/")
	blob := testBlob(t, webrtc.SDPTypeOffer)

	m.Present("Your offer", blob, true)

	text := out.String()
	assert.Contains(t, text, "=== Your offer ===")
	assert.Contains(t, text, "https://call.example/#c="+protocol.CompactCode(blob))
	assert.Contains(t, text, "Scan the QR code")
}

func TestPresentWithoutQR(t *testing.T) {
	var out bytes.Buffer
	m := NewManual(strings.NewReader(""), &out, "")

	m.Present("Answer", testBlob(t, webrtc.SDPTypeAnswer), false)
	assert.NotContains(t, out.String(), "Scan the QR code")
	assert.Contains(t, out.String(), "#c=")
}

func TestWriteQRPNG(t *testing.T) {
	m := NewManual(strings.NewReader(""), io.Discard, "https://call.example/")

	var buf bytes.Buffer
	require.NoError(t, m.WriteQRPNG(&buf, testBlob(t, webrtc.SDPTypeOffer), 256))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
}

func TestQRTooLarge(t *testing.T) {
	m := NewManual(strings.NewReader(""), io.Discard, "https://call.example/"+strings.Repeat("p", qrLimit))

	_, err := m.GenerateQR(testBlob(t, webrtc.SDPTypeOffer))
	assert.ErrorIs(t, err, ErrTooLargeForQR)
	assert.ErrorIs(t, m.WriteQRPNG(io.Discard, testBlob(t, webrtc.SDPTypeOffer), 128), ErrTooLargeForQR)
}

func TestReadCodeAcceptsLink(t *testing.T) {
	blob := testBlob(t, webrtc.SDPTypeAnswer)
	input := "\n" + "garbage\n" + protocol.ShareLink("https://call.example/", blob) + "\n"

	var out bytes.Buffer
	m := NewManual(strings.NewReader(input), &out, "")

	desc, err := m.ReadCode("code: ")
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, desc.Type)
	assert.Equal(t, testSDP, desc.SDP)
	assert.Contains(t, out.String(), "Not a valid code")
}

func TestReadCodeWithoutTrailingNewline(t *testing.T) {
	blob := testBlob(t, webrtc.SDPTypeOffer)
	m := NewManual(strings.NewReader(protocol.CompactCode(blob)), io.Discard, "")

	desc, err := m.ReadCode("")
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, desc.Type)
}

func TestReadCodeEOF(t *testing.T) {
	m := NewManual(strings.NewReader("nope\n"), io.Discard, "")

	_, err := m.ReadCode("")
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadLineSharesBuffer(t *testing.T) {
	blob := testBlob(t, webrtc.SDPTypeAnswer)
	m := NewManual(strings.NewReader(blob+"\nhello there\r\nlast"), io.Discard, "")

	_, err := m.ReadCode("> ")
	require.NoError(t, err)

	line, err := m.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "hello there", line)

	line, err = m.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "last", line)

	_, err = m.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}
