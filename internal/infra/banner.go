package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner writes the startup banner: version, OMS type, instruments and storage.
// HEDGING is highlighted because it changes how fills map to positions.
func PrintBanner(w io.Writer, cfg *Config) {
	color := ColorGreen
	if cfg.Engine.OmsType == "HEDGING" {
		color = ColorYellow
	}
	ids := make([]string, 0, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		ids = append(ids, ic.ID)
	}
	instruments := strings.Join(ids, ", ")
	if instruments == "" {
		instruments = "(none)"
	}

	line := func(label, value string) {
		fmt.Fprintf(w, "%s#   %-12s %-40s #%s\n", color, label, value, ColorReset)
	}
	border := strings.Repeat("#", 59)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%s%s\n", color, border, ColorReset)
	line("APP:", cfg.App.Name)
	line("VERSION:", cfg.App.Version)
	line("OMS:", cfg.Engine.OmsType)
	line("BOOKS:", cfg.Engine.DefaultBookType+" (default)")
	line("INSTRUMENTS:", instruments)
	line("EVENT LOG:", cfg.Storage.SQLitePath)
	if cfg.Metrics.ListenAddr != "" {
		line("METRICS:", fmt.Sprintf("%shttp://%s/metrics%s", ColorCyan, cfg.Metrics.ListenAddr, color))
	}
	fmt.Fprintf(w, "%s%s%s\n", color, border, ColorReset)
	fmt.Fprintln(w)
}
