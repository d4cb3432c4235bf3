package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/tracker"
	"github.com/star/satpass/internal/visibility"
)

// withStack builds the service graph, runs fn and releases the archive.
func (a *app) withStack(ctx context.Context, fn func(*stack) error) error {
	st, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || id <= 0 {
		return 0, apperr.InvalidArgument("cli", "invalid NORAD id %q", arg)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newNameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "name <norad-id>",
		Short: "Print the catalog name of a satellite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStack(cmd.Context(), func(st *stack) error {
				name, err := st.tracker.GetName(cmd.Context(), id)
				if err != nil {
					return err
				}
				if a.format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"norad_id": id, "name": name})
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), name)
				return err
			})
		},
	}
}

func newIDsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ids <name>",
		Short: "Print the NORAD ids of satellites whose name contains <name>",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			return a.withStack(cmd.Context(), func(st *stack) error {
				ids, err := st.tracker.GetIDs(cmd.Context(), name)
				if err != nil {
					return err
				}
				if a.format == "json" {
					return writeJSON(cmd.OutOrStdout(), ids)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), joinIDs(ids))
				return err
			})
		},
	}
}

// joinIDs formats ids as a comma-separated list.
func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func newElementsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "elements <norad-id>",
		Short: "Print the current element set of a satellite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStack(cmd.Context(), func(st *stack) error {
				es, err := st.tracker.GetElements(cmd.Context(), id)
				if err != nil {
					return err
				}
				if a.format == "json" {
					return writeJSON(cmd.OutOrStdout(), es)
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), es.Text())
				return err
			})
		},
	}
}

// locationFlags are shared by commands that need an observer.
type locationFlags struct {
	lat, lon, alt float64
	place         string
}

func (f *locationFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "observer latitude in degrees, north positive")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "observer longitude in degrees, east positive")
	cmd.Flags().Float64Var(&f.alt, "alt", 0, "observer altitude in metres above the ellipsoid")
	cmd.Flags().StringVar(&f.place, "place", "", "geocode this place name instead of --lat/--lon")
	cmd.MarkFlagsMutuallyExclusive("place", "lat")
	cmd.MarkFlagsMutuallyExclusive("place", "lon")
}

// resolve returns the observer location, geocoding --place when given.
func (f *locationFlags) resolve(ctx context.Context, cmd *cobra.Command, st *stack) (visibility.GroundLocation, error) {
	loc := visibility.GroundLocation{LatitudeDeg: f.lat, LongitudeDeg: f.lon, AltitudeM: f.alt}
	if f.place != "" {
		lat, lon, err := st.geocoder.Geocode(ctx, f.place)
		if err != nil {
			return visibility.GroundLocation{}, err
		}
		loc.LatitudeDeg, loc.LongitudeDeg = lat, lon
	} else if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
		return visibility.GroundLocation{}, apperr.InvalidArgument("cli", "--lat and --lon (or --place) are required")
	}
	return loc, loc.Validate()
}

func newTransitsCmd(a *app) *cobra.Command {
	var (
		loc       locationFlags
		minEl     float64
		hours     float64
		step      time.Duration
		trackStep time.Duration
		start     string
	)
	cmd := &cobra.Command{
		Use:   "transits <norad-id>",
		Short: "Predict the passes of a satellite over a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req := tracker.TransitRequest{NORADID: id, Step: step, TrackStep: trackStep}
			if cmd.Flags().Changed("min-elevation") {
				req.MinElevationDeg = &minEl
			}
			if cmd.Flags().Changed("hours") {
				if hours <= 0 {
					return apperr.InvalidArgument("cli", "--hours must be positive, got %v", hours)
				}
				req.Horizon = time.Duration(hours * float64(time.Hour))
			}
			if start != "" {
				if req.Start, err = time.Parse(time.RFC3339, start); err != nil {
					return apperr.InvalidArgument("cli", "invalid --start %q, want RFC 3339", start)
				}
			}

			ctx := cmd.Context()
			return a.withStack(ctx, func(st *stack) error {
				if req.Location, err = loc.resolve(ctx, cmd, st); err != nil {
					return err
				}
				report, err := st.tracker.GetTransits(ctx, req)
				if err != nil {
					return err
				}
				for _, w := range report.Warnings {
					fmt.Fprintln(a.stderr, warnStyle.Render("warning: "+w.String()))
				}
				if a.format == "json" {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
				return err
			})
		},
	}
	loc.register(cmd)
	cmd.Flags().Float64Var(&minEl, "min-elevation", 0, "minimum elevation in degrees (default from config)")
	cmd.Flags().Float64Var(&hours, "hours", 0, "search horizon in hours (default from config)")
	cmd.Flags().DurationVar(&step, "step", 0, "coarse search step (default from config)")
	cmd.Flags().DurationVar(&trackStep, "track-step", 0, "include a ground track sampled at this interval")
	cmd.Flags().StringVar(&start, "start", "", "search start, RFC 3339 (default now)")
	return cmd
}

func newLookCmd(a *app) *cobra.Command {
	var (
		loc locationFlags
		at  string
	)
	cmd := &cobra.Command{
		Use:   "look <norad-id>",
		Short: "Print where a satellite appears from a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var when time.Time
			if at != "" {
				if when, err = time.Parse(time.RFC3339, at); err != nil {
					return apperr.InvalidArgument("cli", "invalid --at %q, want RFC 3339", at)
				}
			}

			ctx := cmd.Context()
			return a.withStack(ctx, func(st *stack) error {
				where, err := loc.resolve(ctx, cmd, st)
				if err != nil {
					return err
				}
				look, err := st.tracker.LookAngles(ctx, id, where, when)
				if err != nil {
					return err
				}
				if a.format == "json" {
					return writeJSON(cmd.OutOrStdout(), look)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), renderLook(look))
				return err
			})
		},
	}
	loc.register(cmd)
	cmd.Flags().StringVar(&at, "at", "", "instant, RFC 3339 (default now)")
	return cmd
}

func newGeocodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "geocode <place>",
		Short: "Resolve a place name to coordinates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			place := strings.Join(args, " ")
			return a.withStack(cmd.Context(), func(st *stack) error {
				lat, lon, err := st.geocoder.Geocode(cmd.Context(), place)
				if err != nil {
					return err
				}
				if a.format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"query": place, "latitude": lat, "longitude": lon})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%.6f,%.6f\n", lat, lon)
				return err
			})
		},
	}
}
