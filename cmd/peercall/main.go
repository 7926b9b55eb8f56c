package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/peercall/internal/config"
	"github.com/artpar/peercall/internal/logging"
)

var (
	version = "0.1.0"
)

func main() {
	err := rootCmd.Execute()
	_ = logging.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "peercall",
	Short: "Serverless P2P calls with end-to-end encrypted chat",
	Long: `peercall sets up a direct audio/video/data call between two peers
without any signaling server. The connection details travel out of band:
one side creates an offer code, the other answers it, and the first side
pastes the answer back.

Chat messages are encrypted with a key agreed over the data channel
(ECDH P-256, AES-GCM), on top of the transport encryption.

Example:
  peercall offer                  # print an offer, then wait for the answer
  peercall answer '<code|link>'   # answer an offer
  peercall decode '<code|link>'   # inspect a code
  peercall replay <transcript>    # replay a recorded chat`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

var offerCmd = &cobra.Command{
	Use:   "offer",
	Short: "Start a call by creating an offer",
	Args:  cobra.NoArgs,
	RunE:  runOffer,
}

var answerCmd = &cobra.Command{
	Use:   "answer [code|link]",
	Short: "Join a call by answering an offer",
	Long: `Answer an offer created with "peercall offer" or a browser client.
The offer may be passed as an argument or pasted when prompted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnswer,
}

var decodeCmd = &cobra.Command{
	Use:   "decode <code|link>",
	Short: "Show what a code or link contains",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

var replayCmd = &cobra.Command{
	Use:   "replay <transcript>",
	Short: "Replay a recorded call transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

var (
	cfg *config.Config

	configPath string
	logLevel   string
	jsonLogs   bool
	hostOnly   bool
	preset     string
	videoFile  string
	audioFile  string
	linkBase   string
	noQR       bool
	qrPNG      string
	record     bool
	metrics    string

	replaySpeed float64
	replayState bool
)

func init() {
	rootCmd.AddCommand(offerCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(replayCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default ~/.peercall/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON")

	for _, c := range []*cobra.Command{offerCmd, answerCmd} {
		f := c.Flags()
		f.BoolVar(&hostOnly, "host-only", false, "Skip STUN and use local candidates only")
		f.StringVarP(&preset, "preset", "q", "", "Video preset: 480p, 720p, 1080p")
		f.StringVar(&videoFile, "video", "", "IVF (VP8) file played as the camera")
		f.StringVar(&audioFile, "audio", "", "Ogg Opus file played as the microphone")
		f.StringVar(&linkBase, "link-base", "", "URL prefix for shareable links")
		f.BoolVar(&noQR, "no-qr", false, "Do not print QR codes")
		f.StringVar(&qrPNG, "qr-png", "", "Also write the QR code to this PNG file")
		f.BoolVar(&record, "record", false, "Write a transcript of the call")
		f.StringVar(&metrics, "metrics-addr", "", "Serve Prometheus metrics on this address")
	}

	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1, "Playback speed; 0 prints instantly")
	replayCmd.Flags().BoolVar(&replayState, "state", false, "Include connection and quality events")
}

// loadConfig reads the config file and environment, then applies the
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("json-logs") {
		c.Log.JSON = jsonLogs
	}
	if flags.Changed("host-only") {
		c.Network.HostOnly = hostOnly
	}
	if flags.Changed("preset") {
		c.Media.Preset = preset
	}
	if flags.Changed("video") {
		c.Media.Video = videoFile
	}
	if flags.Changed("audio") {
		c.Media.Audio = audioFile
	}
	if flags.Changed("link-base") {
		c.LinkBase = linkBase
	}
	if flags.Changed("metrics-addr") {
		c.MetricsAddr = metrics
	}
	if err := c.Validate(); err != nil {
		return err
	}

	logging.SetLevel(logging.ParseLevel(c.Log.Level))
	logging.SetJSON(c.Log.JSON)

	cfg = c
	return nil
}
