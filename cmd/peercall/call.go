package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artpar/peercall/internal/call"
	"github.com/artpar/peercall/internal/logging"
	"github.com/artpar/peercall/internal/protocol"
	"github.com/artpar/peercall/internal/recording"
	"github.com/artpar/peercall/internal/signaling"
)

// negotiation runs the offer/answer exchange for one role
type negotiation func(ctx context.Context, s *call.Session, m *signaling.Manual) error

func runOffer(cmd *cobra.Command, _ []string) error {
	return runCall(cmd, "offer", func(ctx context.Context, s *call.Session, m *signaling.Manual) error {
		fmt.Fprintln(cmd.OutOrStdout(), "Gathering network candidates...")
		blob, err := s.CreateOffer(ctx)
		if err != nil {
			return err
		}
		if err := present(m, "Your offer", blob); err != nil {
			return err
		}

		for {
			desc, err := m.ReadCode("Paste the answer: ")
			if err != nil {
				return err
			}
			answer, err := protocol.EncodeDescription(desc)
			if err != nil {
				return err
			}
			err = s.ReceiveAnswer(answer)
			if errors.Is(err, call.ErrInvalidCode) {
				fmt.Fprintf(cmd.OutOrStdout(), "That is not an answer to this offer (%v), try again.\n", err)
				continue
			}
			return err
		}
	})
}

func runAnswer(cmd *cobra.Command, args []string) error {
	return runCall(cmd, "answer", func(ctx context.Context, s *call.Session, m *signaling.Manual) error {
		var code string
		if len(args) == 1 {
			code = args[0]
		}

		for {
			if code == "" {
				desc, err := m.ReadCode("Paste the offer: ")
				if err != nil {
					return err
				}
				if code, err = protocol.EncodeDescription(desc); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Gathering network candidates...")
			blob, err := s.ReceiveOffer(ctx, code)
			if errors.Is(err, call.ErrInvalidCode) && len(args) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "That is not an offer (%v), try again.\n", err)
				code = ""
				continue
			}
			if err != nil {
				return err
			}
			return present(m, "Your answer (send it back)", blob)
		}
	})
}

func present(m *signaling.Manual, title, blob string) error {
	m.Present(title, blob, !noQR)
	if desc, err := protocol.DecodeDescription(blob); err == nil {
		if sum, err := signaling.Describe(desc); err == nil && sum.PublicAddress != "" {
			logging.WithComponent("cli").Info("reachable from other networks", zap.String("address", sum.PublicAddress))
		}
	}
	if qrPNG == "" {
		return nil
	}

	f, err := os.Create(qrPNG)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := m.WriteQRPNG(f, blob, 512); err != nil {
		return fmt.Errorf("failed to write QR image: %w", err)
	}
	return nil
}

// runCall sets up the session, runs the negotiation, then hands the
// terminal to the chat loop until the call ends.
func runCall(cmd *cobra.Command, role string, negotiate negotiation) error {
	log := logging.WithComponent("cli")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	manual := signaling.NewManual(cmd.InOrStdin(), out, cfg.LinkBase)

	rec, err := openRecorder(role)
	if err != nil {
		return err
	}
	if rec != nil {
		defer rec.Close()
		fmt.Fprintf(out, "Recording to %s\n", rec.Path())
	}

	term := newTerminal(out, rec)
	session := call.New(cfg.CallOptions(), call.PionLinks(cfg.PeerConfig(), nil), cfg.Source())
	session.SetNotifier(bell{w: cmd.ErrOrStderr()})
	session.SetCallbacks(term.callbacks())
	if cfg.MetricsAddr != "" {
		if err := serveMetrics(ctx, session, cfg.MetricsAddr); err != nil {
			return err
		}
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := session.Run(ctx); err != nil {
			log.Debug("session loop ended", zap.Error(err))
		}
	}()
	defer func() {
		stop()
		<-runDone
	}()

	if err := session.Start(ctx, cfg.Preset()); err != nil {
		return fmt.Errorf("failed to start media: %w", err)
	}

	// Reading codes blocks on the terminal; an interrupt must not wait for it
	negotiated := make(chan error, 1)
	go func() { negotiated <- negotiate(ctx, session, manual) }()
	select {
	case err := <-negotiated:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return nil
	}

	fmt.Fprintln(out, "Waiting for the peer to connect. Type /help for commands.")
	return newREPL(session, manual, term).run(ctx)
}

func openRecorder(role string) (*recording.Recorder, error) {
	if !record && cfg.RecordDir == "" {
		return nil, nil
	}
	path := recording.GenerateRecordingPath(role)
	if cfg.RecordDir != "" {
		path = filepath.Join(cfg.RecordDir, filepath.Base(path))
	}
	return recording.NewRecorder(path, role, string(cfg.Preset()))
}

// serveMetrics exposes the session's metrics until ctx is done
func serveMetrics(ctx context.Context, session *call.Session, addr string) error {
	log := logging.WithComponent("metrics")

	reg := prometheus.NewRegistry()
	if err := session.RegisterMetrics(reg); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}
