// Package signaling handles the out-of-band exchange of session descriptions
package signaling

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/skip2/go-qrcode"

	"github.com/artpar/peercall/internal/protocol"
)

// qrLimit is the largest payload go-qrcode fits at Low recovery (version 40).
const qrLimit = 2953

var ErrTooLargeForQR = errors.New("code too large for a QR code")

// Manual handles QR code and copy-paste based exchange
type Manual struct {
	out     io.Writer
	in      *bufio.Reader
	baseURL string
}

// NewManual creates a manual exchange over the given terminal streams.
// baseURL prefixes the shareable link; empty means a bare "#c=" fragment.
func NewManual(in io.Reader, out io.Writer, baseURL string) *Manual {
	return &Manual{
		out:     out,
		in:      bufio.NewReader(in),
		baseURL: baseURL,
	}
}

// Link builds the shareable link for a description blob
func (m *Manual) Link(blob string) string {
	return protocol.ShareLink(m.baseURL, blob)
}

// GenerateQR creates a terminal QR code for the shareable link
func (m *Manual) GenerateQR(blob string) (string, error) {
	link := m.Link(blob)
	if len(link) > qrLimit {
		return "", ErrTooLargeForQR
	}

	qr, err := qrcode.New(link, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("failed to generate QR code: %w", err)
	}

	return qr.ToSmallString(false), nil
}

// WriteQRPNG writes a PNG QR code of the shareable link
func (m *Manual) WriteQRPNG(w io.Writer, blob string, size int) error {
	link := m.Link(blob)
	if len(link) > qrLimit {
		return ErrTooLargeForQR
	}

	png, err := qrcode.Encode(link, qrcode.Low, size)
	if err != nil {
		return fmt.Errorf("failed to generate QR PNG: %w", err)
	}

	_, err = w.Write(png)
	return err
}

// Present displays a code for the user to hand to the peer
func (m *Manual) Present(title, blob string, withQR bool) {
	fmt.Fprintln(m.out)
	fmt.Fprintf(m.out, "=== %s ===\n", title)
	fmt.Fprintln(m.out)

	if withQR {
		if qr, err := m.GenerateQR(blob); err == nil {
			fmt.Fprintln(m.out, "Scan the QR code:")
			fmt.Fprintln(m.out, qr)
		}
	}

	fmt.Fprintln(m.out, "Share this link:")
	fmt.Fprintf(m.out, "   %s\n", m.Link(blob))
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "Or this code:")
	fmt.Fprintf(m.out, "   %s\n", protocol.CompactCode(blob))
	fmt.Fprintln(m.out)
}

// ReadCode prompts for and reads the peer's code. Raw blobs, compact
// codes, and links are all accepted; blank lines are skipped.
func (m *Manual) ReadCode(prompt string) (webrtc.SessionDescription, error) {
	for {
		fmt.Fprint(m.out, prompt)

		line, err := m.in.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			desc, perr := protocol.ParseCode(line)
			if perr == nil {
				return desc, nil
			}
			fmt.Fprintf(m.out, "Not a valid code (%v), try again.\n", perr)
		}
		if err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("failed to read code: %w", err)
		}
	}
}

// ReadLine reads one line of user input without the trailing newline.
// It shares the buffer with ReadCode.
func (m *Manual) ReadLine() (string, error) {
	line, err := m.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
