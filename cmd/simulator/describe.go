package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/scenario"
	"github.com/pedrobellotti/nstestes/traffic"
)

func newDescribeCmd(root *rootOptions) *cobra.Command {
	var builtin string
	cmd := &cobra.Command{
		Use:   "describe [scenario-file]",
		Short: "Build a scenario and print its topology, addresses and timeline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := loadDescription(args, builtin)
			if err != nil {
				return err
			}
			s, err := scenario.Build(cmd.Context(), desc, scenario.WithLogger(root.logger(cmd)))
			if err != nil {
				return err
			}
			return describe(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().StringVarP(&builtin, "builtin", "b", "", "describe a built-in scenario instead of a file")
	return cmd
}

func describe(out io.Writer, s *scenario.Scenario) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "scenario %s (stop %v)\n", s.Description.Name, s.Stop)
	if s.Description.Summary != "" {
		fmt.Fprintf(w, "  %s\n", s.Description.Summary)
	}

	fmt.Fprintln(w, "\nNODE\tTYPE\tPOSITION\tADDRESSES")
	for _, n := range s.Nodes.ListNetworkNodes() {
		pos := "-"
		if p, ok := s.Nodes.GetNodePosition(n.ID); ok {
			pos = fmt.Sprintf("(%g, %g)", p.X, p.Y)
		}
		var addrs []string
		for _, intf := range s.Network.InterfacesForNode(n.ID) {
			addrs = append(addrs, intf.SegmentID+":"+intf.CIDR())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ID, n.Type, pos, strings.Join(addrs, " "))
	}

	fmt.Fprintln(w, "\nSEGMENT\tKIND\tLINK\tSUBNET\tINTERFACES")
	for _, seg := range s.Network.ListSegments() {
		addrs := make([]string, 0, len(seg.InterfaceIDs))
		for _, id := range seg.InterfaceIDs {
			intf := s.Network.GetInterface(id)
			addrs = append(addrs, intf.NodeID+"="+intf.Address.String())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", seg.ID, seg.Kind, linkSummary(seg.Config), seg.Subnet, strings.Join(addrs, " "))
	}

	islands := core.NewConnectivityService(s.Network).Islands()
	fmt.Fprintf(w, "\nislands: %d\n", len(islands))
	for i, ids := range islands {
		fmt.Fprintf(w, "  %d: %s\n", i, strings.Join(ids, " "))
	}

	fmt.Fprintln(w, "\nROLE\tNODE\tWINDOW\tDETAIL")
	for _, r := range s.Traffic.Roles() {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", r.RoleID(), r.Node(), r.ActiveWindow(), roleSummary(r))
	}

	fmt.Fprintln(w, "\nTIME\tROLE\tEVENT")
	for _, ev := range s.Traffic.Events() {
		fmt.Fprintf(w, "%v\t%s\t%s\n", ev.At, ev.RoleID, ev.Kind)
	}

	if caps := s.Plan.Captures(); len(caps) > 0 {
		fmt.Fprintln(w, "\nCAPTURE\tPREFIX")
		for _, c := range caps {
			fmt.Fprintf(w, "%s\t%s\n", c.SegmentID, c.Prefix)
		}
	}
	if enabled, report := s.Plan.FlowAccounting(); enabled {
		fmt.Fprintf(w, "\nflow report: %s\n", report)
	}
	fmt.Fprintf(w, "animation: %s\n", s.Plan.AnimationFile())
	return w.Flush()
}

func linkSummary(cfg core.LinkConfig) string {
	switch c := cfg.(type) {
	case core.PointToPointConfig:
		return fmt.Sprintf("%s/%v", c.DataRate, c.Delay)
	case core.SharedMediumConfig:
		return fmt.Sprintf("%s/%v", c.DataRate, c.Delay)
	case core.WirelessConfig:
		return fmt.Sprintf("%s ssid=%s %s", c.DataRate, c.SSID, c.StationMobility.Model)
	default:
		return "-"
	}
}

func roleSummary(r traffic.ApplicationRole) string {
	switch r := r.(type) {
	case *traffic.EchoServer:
		return fmt.Sprintf("udp/%d", r.Port)
	case *traffic.EchoClient:
		return fmt.Sprintf("%d x %dB every %v to %s:%d", r.PacketCount, r.PacketSize, r.Interval, r.Remote.Address, r.Remote.Port)
	case *traffic.BulkSink:
		return fmt.Sprintf("%s/%d label %s", r.Transport, r.Port, r.Label)
	case *traffic.BulkSource:
		limit := "unlimited"
		if !r.Unlimited() {
			limit = fmt.Sprintf("%d bytes", r.MaxBytes)
		}
		return fmt.Sprintf("%s to %s:%d, %s", r.Transport, r.Remote.Address, r.Remote.Port, limit)
	default:
		return ""
	}
}
