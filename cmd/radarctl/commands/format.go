// Package commands implements the radarctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatStatus renders the daemon status in the requested format.
func formatStatus(st *statusInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(st)
	case formatTable:
		return formatStatusTable(st)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatPlayers renders the player roster in the requested format.
func formatPlayers(players []playerInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		if players == nil {
			players = []playerInfo{}
		}
		return marshalJSON(players)
	case formatTable:
		return formatPlayersTable(players)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatStatusTable(st *statusInfo) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Status:\t%s\n", st.Status)
	fmt.Fprintf(w, "Version:\t%s\n", st.Version)
	fmt.Fprintf(w, "Uptime:\t%s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(w, "Players:\t%d\n", st.Players)
	fmt.Fprintf(w, "Sessions:\t%d\n", st.Sessions)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}

func formatPlayersTable(players []playerInfo) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tSCENE\tLAST-UPDATE")

	for _, p := range players {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.PlayerID, sceneOrDash(p.SceneID), lastUpdate(p.TimestampMS))
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}

func sceneOrDash(scene string) string {
	if scene == "" {
		return "-"
	}
	return scene
}

// lastUpdate renders a client pose timestamp as local wall-clock time, or a
// dash when the client never stamped its poses.
func lastUpdate(tsMS int64) string {
	if tsMS == 0 {
		return "-"
	}
	return time.UnixMilli(tsMS).Format("15:04:05.000")
}

// --- JSON formatter ---

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return string(data), nil
}
