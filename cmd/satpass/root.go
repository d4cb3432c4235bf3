package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/config"
)

// app carries state shared by all subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	tleFile string
	format  string

	cfg    config.Config
	logger *slog.Logger
	stderr io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New(), stderr: os.Stderr}

	root := &cobra.Command{
		Use:   "satpass",
		Short: "Satellite pass predictions",
		Long: `satpass predicts when a satellite is visible above a minimum elevation
from a ground location, using SGP4 and element sets from CelesTrak.

Examples:
  satpass transits 25544 --lat 51.5 --lon -0.1
  satpass transits 25544 --place "Lisbon" --min-elevation 20 --hours 48
  satpass ids starlink
  satpass serve --addr :9090
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default satpass.yaml in . or $HOME/.config/satpass)")
	pf.StringVar(&a.tleFile, "tle-file", "", "read element sets from this file instead of CelesTrak")
	pf.StringVar(&a.format, "format", "table", "output format: table or json")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: json or text")
	a.bind("log.level", pf.Lookup("log-level"))
	a.bind("log.format", pf.Lookup("log-format"))

	root.AddCommand(
		newServeCmd(a),
		newNameCmd(a),
		newIDsCmd(a),
		newElementsCmd(a),
		newTransitsCmd(a),
		newLookCmd(a),
		newGeocodeCmd(a),
	)
	return root
}

// bind makes a flag the highest-precedence source for a config key.
func (a *app) bind(key string, f *pflag.Flag) {
	if err := a.v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", f.Name, err))
	}
}

// load reads the configuration and builds the process logger.
func (a *app) load(cmd *cobra.Command) error {
	if a.format != "table" && a.format != "json" {
		return apperr.InvalidArgument("cli", "--format must be table or json, got %q", a.format)
	}
	if w := cmd.ErrOrStderr(); w != nil {
		a.stderr = w
	}
	boot := slog.New(slog.NewJSONHandler(a.stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, err := config.Load(a.v, a.cfgFile, boot)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger(a.stderr)
	return nil
}
