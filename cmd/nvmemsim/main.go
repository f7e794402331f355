// Command nvmemsim replays a plain-text memory access trace through
// the nvmain facade and prints the resulting counters. It stands in
// for the "upper simulator (CPU model or trace driver)" spec.md's
// facade expects to sit above it, reduced to something runnable
// without a full CPU model.
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/haldane-labs/nvmemsim"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nvmemsim",
		Short: "Bit-accurate write-flip accounting for a memory-system simulator core",
	}
	root.AddCommand(newReplayCmd())
	return root
}

func newReplayCmd() *cobra.Command {
	var configPath, tracePath string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a request trace through the memory facade and print final counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(configPath, tracePath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (required)")
	cmd.Flags().StringVarP(&tracePath, "trace", "t", "", "path to a trace file (required)")
	cmd.MarkFlagRequired("config")
	cmd.MarkFlagRequired("trace")

	return cmd
}

func runReplay(configPath, tracePath string) error {
	cfg, err := nvmain.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sys := nvmain.NewSystem()
	if err := sys.SetConfig(cfg); err != nil {
		return fmt.Errorf("configuring facade: %w", err)
	}
	defer sys.Close()

	f, err := os.Open(tracePath)
	if err != nil {
		return fmt.Errorf("opening trace: %w", err)
	}
	defer f.Close()

	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		req, err := parseTraceLine(line)
		if err != nil {
			return fmt.Errorf("trace line %d: %w", lineNo, err)
		}

		if ok, err := sys.IssueCommand(req); !ok {
			log.Warn("request rejected", "line", lineNo, "err", err)
		}
		sys.Cycle()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading trace: %w", err)
	}

	sys.RegisterStats()
	printStats(sys.Stats.Snapshot())
	return nil
}

// parseTraceLine accepts two forms:
//
//	<phys> R
//	<phys> W <oldData_hex> <newData_hex>
//
// <phys> uses Go integer-literal syntax, so a hex address needs a 0x
// prefix (bare digits are read as decimal). oldData/newData are 64-byte
// cachelines encoded as 128 hex characters.
func parseTraceLine(line string) (*nvmain.MemRequest, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, fmt.Errorf("expected at least 2 fields, got %d", len(fields))
	}

	phys, err := strconv.ParseUint(fields[0], 0, 64)
	if err != nil {
		return nil, fmt.Errorf("bad address %q: %w", fields[0], err)
	}

	switch strings.ToUpper(fields[1]) {
	case "R":
		return nvmain.NewMemRequest(phys, nvmain.Read), nil
	case "W":
		if len(fields) != 4 {
			return nil, fmt.Errorf("write line needs oldData and newData, got %d fields", len(fields))
		}
		old, err := hex.DecodeString(fields[2])
		if err != nil {
			return nil, fmt.Errorf("bad oldData: %w", err)
		}
		newData, err := hex.DecodeString(fields[3])
		if err != nil {
			return nil, fmt.Errorf("bad newData: %w", err)
		}
		req := nvmain.NewMemRequest(phys, nvmain.Write)
		req.OldData = old
		req.NewData = newData
		return req, nil
	default:
		return nil, fmt.Errorf("unknown access type %q (want R or W)", fields[1])
	}
}

func printStats(snap map[string]uint64) {
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-24s %d\n", name, snap[name])
	}
}
