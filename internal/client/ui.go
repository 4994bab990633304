package client

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/skip2/go-qrcode"

	"syncrelay/internal/constants"
	"syncrelay/internal/protocol"
	"syncrelay/internal/syncclient"
)

var (
	bold   = color.New(color.Bold)
	dim    = color.New(color.Faint)
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	purple = color.New(color.FgMagenta)
)

func PrintBanner(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", color.New(color.Bold, color.FgCyan).Sprint(constants.AppName), bold.Sprintf("v%s", constants.Version))
	fmt.Fprintf(w, "  %s\n", dim.Sprint("Tutorial sync peer"))
	fmt.Fprintln(w)
}

func PrintHint(w io.Writer, text string) {
	fmt.Fprintf(w, "  %s\n", dim.Sprint(text))
}

func PrintField(w io.Writer, label, value string, c *color.Color) {
	fmt.Fprintf(w, "  %s %s\n", dim.Sprintf("%-12s", label), c.Sprint(value))
}

func PrintSep(w io.Writer) {
	fmt.Fprintf(w, "  %s\n", dim.Sprint(strings.Repeat("─", 50)))
}

// PrintQR renders content as a terminal QR code.
func PrintQR(w io.Writer, content string) error {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("qr code: %w", err)
	}
	fmt.Fprint(w, q.ToString(false))
	return nil
}

func roleColor(r protocol.Role) *color.Color {
	switch r {
	case protocol.RoleActive:
		return green
	case protocol.RolePassive:
		return yellow
	case protocol.RoleDisconnected:
		return red
	}
	return cyan
}

func stateColor(s syncclient.ConnectionState) *color.Color {
	switch s {
	case syncclient.StateConnected:
		return green
	case syncclient.StateConnecting:
		return yellow
	case syncclient.StateError:
		return red
	}
	return dim
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
