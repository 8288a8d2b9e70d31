package appconfig

import (
	"fmt"
	"io"

	"github.com/k0kubun/pp"
)

// ShowConfig prints the resolved configuration with secrets masked.
func ShowConfig(out io.Writer, cfg Config) {
	if cfg.ConfigPath == "" {
		fmt.Fprintln(out, "No config file loaded (using defaults).")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", cfg.ConfigPath)
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Provider:     %s\n", cfg.Provider)
	fmt.Fprintf(out, "  Model:        %s\n", cfg.Host.Model)
	fmt.Fprintf(out, "  Max Length:   %d\n", cfg.MaxLength)
	fmt.Fprintf(out, "  History:      %s (keep %d, trim at %d)\n", cfg.History.Backend, cfg.History.Keep, cfg.History.TrimAt)
	fmt.Fprintln(out)
	_, _ = pp.Fprintln(out, cfg.Redacted())
}
