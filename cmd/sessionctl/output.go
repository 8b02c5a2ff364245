package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/danmuck/sessionctl/internal/session"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// sessionRow is the printed form of one session.
type sessionRow struct {
	ID            string `json:"id" yaml:"id"`
	Type          string `json:"type" yaml:"type"`
	Owner         string `json:"owner" yaml:"owner"`
	RemoteAddress string `json:"remote_address" yaml:"remote_address"`
	Service       string `json:"service" yaml:"service"`
	ObjectPath    string `json:"object_path" yaml:"object_path"`
}

func rowOf(info session.Info) sessionRow {
	return sessionRow{
		ID:            info.ID.Hex(),
		Type:          info.Type.Name(),
		Owner:         info.Owner,
		RemoteAddress: info.RemoteAddress,
		Service:       info.ServiceName,
		ObjectPath:    info.ObjectPath,
	}
}

func printSessions(w io.Writer, format string, infos []session.Info) error {
	rows := make([]sessionRow, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, rowOf(info))
	}
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(rows)
	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tOWNER\tREMOTE\tSERVICE")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Type, dash(r.Owner), r.RemoteAddress, r.Service)
		}
		return tw.Flush()
	}
}

func printSession(w io.Writer, format string, info session.Info) error {
	row := rowOf(info)
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(row)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(row)
	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "id:\t%s\n", row.ID)
		fmt.Fprintf(tw, "type:\t%s\n", row.Type)
		fmt.Fprintf(tw, "owner:\t%s\n", dash(row.Owner))
		fmt.Fprintf(tw, "remote:\t%s\n", row.RemoteAddress)
		fmt.Fprintf(tw, "service:\t%s\n", row.Service)
		fmt.Fprintf(tw, "path:\t%s\n", row.ObjectPath)
		return tw.Flush()
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
