package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/artpar/peercall/internal/protocol"
	"github.com/artpar/peercall/internal/signaling"
)

func runDecode(cmd *cobra.Command, args []string) error {
	desc, err := protocol.ParseCode(args[0])
	if err != nil {
		return err
	}
	sum, err := signaling.Describe(desc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Type:         %s\n", sum.Type)
	fmt.Fprintf(out, "Media:        %s\n", strings.Join(sum.Media, ", "))
	fmt.Fprintf(out, "Data channel: %t\n", sum.HasDataChannel())

	var kinds []string
	for k := range sum.Candidates {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	var counts []string
	for _, k := range kinds {
		counts = append(counts, fmt.Sprintf("%d %s", sum.Candidates[k], k))
	}
	if len(counts) == 0 {
		counts = []string{"none"}
	}
	fmt.Fprintf(out, "Candidates:   %s\n", strings.Join(counts, ", "))
	if len(sum.Addresses) > 0 {
		fmt.Fprintf(out, "Addresses:    %s\n", strings.Join(sum.Addresses, ", "))
	}
	if sum.PublicAddress != "" {
		fmt.Fprintf(out, "Public:       %s\n", sum.PublicAddress)
	}

	blob, err := protocol.EncodeDescription(desc)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Code:         %d bytes, %d compact\n", len(blob), len(protocol.CompactCode(blob)))
	return nil
}
