package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/peercall/internal/recording"
)

func runReplay(cmd *cobra.Command, args []string) error {
	rec, err := recording.LoadRecording(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	started := time.Unix(rec.Header.Timestamp, 0)
	fmt.Fprintf(out, "%s call on %s, %d messages, %s\n",
		rec.Header.Role, started.Format("2006-01-02 15:04"), len(rec.Messages()), rec.Duration().Round(time.Second))

	player := recording.NewPlayer(rec, out)
	player.SetSpeed(replaySpeed)
	player.ShowState(replayState)
	return player.Play(cmd.Context())
}
