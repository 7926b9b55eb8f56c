package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/artpar/peercall/internal/call"
	"github.com/artpar/peercall/internal/protocol"
	"github.com/artpar/peercall/internal/signaling"
)

const helpText = `Commands:
  <text>              send a chat message
  /file <path>        send a file
  /image <path>       send an image
  /save <n> [path]    save the n-th received file
  /mic                mute or unmute the microphone
  /video              turn the camera off or on
  /quality            show the link quality
  /status             show the call state
  /quit               hang up
`

var errQuit = errors.New("quit")

// repl is the chat loop run once the codes are exchanged
type repl struct {
	session *call.Session
	input   *signaling.Manual
	term    *terminal
}

func newREPL(s *call.Session, in *signaling.Manual, term *terminal) *repl {
	return &repl{session: s, input: in, term: term}
}

func (r *repl) run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := r.input.ReadLine()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.session.Cleanup()
			return nil
		case <-r.term.ended:
			return nil
		case err := <-readErr:
			r.session.Cleanup()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			err := r.handle(ctx, strings.TrimSpace(line))
			if errors.Is(err, errQuit) {
				r.session.Cleanup()
				return nil
			}
			if err != nil {
				r.term.printf("-- %v\n", err)
			}
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return r.send(ctx, protocol.Envelope{Content: line, Type: protocol.ContentText})
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help":
		r.term.printf("%s", helpText)
	case "/quit", "/exit":
		return errQuit
	case "/file", "/image":
		if arg == "" {
			return fmt.Errorf("usage: %s <path>", cmd)
		}
		typ := protocol.ContentFile
		if cmd == "/image" {
			typ = protocol.ContentImage
		}
		env, err := attachment(arg, typ)
		if err != nil {
			return err
		}
		if err := r.send(ctx, env); err != nil {
			return err
		}
		r.term.printf("-- sent %s\n", env.FileName)
	case "/save":
		return r.save(arg)
	case "/mic":
		on := !r.session.State().AudioEnabled
		if err := r.session.SetAudioEnabled(on); err != nil {
			return err
		}
		r.term.printf("-- microphone %s\n", onOff(on))
	case "/video":
		on := !r.session.State().VideoEnabled
		if err := r.session.SetVideoEnabled(on); err != nil {
			return err
		}
		r.term.printf("-- camera %s\n", onOff(on))
	case "/quality":
		r.term.printf("-- quality %s\n", r.session.State().Quality)
	case "/status":
		st := r.session.State()
		r.term.printf("-- %s, encrypted chat: %t, reconnect attempts: %d, mic %s, camera %s\n",
			st.Phase, st.SecretEstablished, st.ReconnectAttempts, onOff(st.AudioEnabled), onOff(st.VideoEnabled))
	default:
		return fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return nil
}

func (r *repl) send(ctx context.Context, env protocol.Envelope) error {
	if err := r.session.Send(ctx, env); err != nil {
		if errors.Is(err, call.ErrNotReady) {
			return errors.New("not connected yet; the message was not sent")
		}
		return err
	}
	r.term.sent(env)
	return nil
}

func (r *repl) save(arg string) error {
	num, dest, _ := strings.Cut(arg, " ")
	n, err := strconv.Atoi(num)
	if err != nil {
		return errors.New("usage: /save <n> [path]")
	}
	msg, ok := r.term.receivedAt(n)
	if !ok || msg.Type == protocol.ContentText {
		return fmt.Errorf("message %d is not a received file", n)
	}

	data, _, err := decodeDataURL(msg.Content)
	if err != nil {
		return err
	}
	dest = strings.TrimSpace(dest)
	if dest == "" {
		dest = filepath.Base(msg.FileName)
		if dest == "." || dest == string(filepath.Separator) || dest == "" {
			dest = fmt.Sprintf("peercall-%d", n)
		}
	}
	if err := os.WriteFile(dest, data, 0600); err != nil {
		return err
	}
	r.term.printf("-- saved %s\n", dest)
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
