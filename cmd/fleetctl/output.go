package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"fleetconsole/internal/fleet"
)

// Output formats accepted by -o.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func checkOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	}
	return errors.Newf("unknown output format %q (want table, json or yaml)", format)
}

// render writes v as json or yaml, or calls table for the table format.
// YAML goes through JSON first so both formats share the wire field names.
func render(w io.Writer, format string, v any, table func(*tabwriter.Writer)) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		raw, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "encode output")
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return errors.Wrap(err, "encode output")
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return errors.Wrap(err, "encode output")
		}
		return enc.Close()
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func lastSeenAge(a fleet.Agent) string {
	if t, ok := a.LastSeenTime(); ok {
		return humanize.Time(t)
	}
	if a.LastSeen == "" {
		return "never"
	}
	return a.LastSeen
}

func updatesCell(a fleet.Agent) string {
	if a.OSUpdate == nil {
		return "-"
	}
	if a.OSUpdate.Upgrades == 0 {
		return "up to date"
	}
	return fmt.Sprintf("%d pending", a.OSUpdate.Upgrades)
}

func sudoCell(a fleet.Agent) string {
	switch {
	case a.OSUpdate == nil || a.OSUpdate.SudoAptOK == nil:
		return "unknown"
	case *a.OSUpdate.SudoAptOK:
		return "ok"
	}
	return "not configured"
}

func writeAgentTable(tw *tabwriter.Writer, agents []fleet.Agent) {
	fmt.Fprintln(tw, "ID\tSTATUS\tLAST SEEN\tUPDATES\tSUDO APT")
	for _, a := range agents {
		status := string(a.Status)
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, status, lastSeenAge(a), updatesCell(a), sudoCell(a))
	}
}

func formatAgo(d time.Duration) string {
	now := time.Now()
	return humanize.RelTime(now.Add(-d), now, "ago", "from now")
}

func indentJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
