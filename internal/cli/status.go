package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/macrolens/internal/status"
	"github.com/roach88/macrolens/internal/timeseries"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Stale bool
	AsOf  string
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the matrix status",
		Long: `Print the per-series status recorded by previous runs.

With --stale, list only series whose last observation is older than their
staleness threshold (the matrix stale_days override, else stale_days_default).

Example:
  macrolens status
  macrolens status --stale --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Stale, "stale", false, "only list stale series")
	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "reference date for --stale (default: now, UTC)")

	return cmd
}

type statusRow struct {
	ID                  string  `json:"id"`
	Status              string  `json:"status"`
	LastOK              *string `json:"last_ok"`
	LastRunAt           *string `json:"last_run_at"`
	LastObservationDate *string `json:"last_observation_date"`
	LastError           *string `json:"last_error"`
}

type statusListing struct {
	Path      string      `json:"path"`
	UpdatedAt *string     `json:"updated_at"`
	Series    []statusRow `json:"series"`
}

func (l statusListing) renderText(w io.Writer) {
	if len(l.Series) == 0 {
		fmt.Fprintf(w, "No status recorded yet (%s)\n", l.Path)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tLAST OK\tLAST OBS\tLAST ERROR")
	for _, r := range l.Series {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, orDash(r.LastOK), orDash(r.LastObservationDate), orDash(r.LastError))
	}
	_ = tw.Flush()
}

type staleListing struct {
	ReferenceDate string               `json:"reference_date"`
	Stale         []status.StaleSeries `json:"stale"`
}

func (l staleListing) renderText(w io.Writer) {
	if len(l.Stale) == 0 {
		fmt.Fprintf(w, "No stale series as of %s\n", l.ReferenceDate)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLAST OBS\tAGE\tTHRESHOLD\tSTATUS")
	for _, s := range l.Stale {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.SeriesID, s.LastObservationDate, s.DeltaDays, s.Threshold, s.Status)
	}
	_ = tw.Flush()
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func runStatus(cmd *cobra.Command, opts *StatusOptions) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	asOf, err := parseAsOf(opts.AsOf)
	if err != nil {
		return a.out.Fail(ExitCommandError, ErrCodeArgs, "invalid arguments", err)
	}

	path := a.settings.Paths.StatusFile()
	f, err := status.Load(path)
	if err != nil {
		return a.out.Fail(ExitFailure, ErrCodeRuntime, "failed to read matrix status", err)
	}

	if !opts.Stale {
		listing := statusListing{Path: path, UpdatedAt: f.UpdatedAt, Series: make([]statusRow, 0, len(f.Series))}
		for id, e := range f.Series {
			listing.Series = append(listing.Series, statusRow{
				ID:                  id,
				Status:              string(e.Status),
				LastOK:              e.LastOK,
				LastRunAt:           e.LastRunAt,
				LastObservationDate: e.LastObservationDate,
				LastError:           e.LastError,
			})
		}
		sort.Slice(listing.Series, func(i, j int) bool { return listing.Series[i].ID < listing.Series[j].ID })
		return a.out.Success(listing)
	}

	// Per-series thresholds come from the matrix.
	matrix, err := a.loadMatrix()
	if err != nil {
		return err
	}
	overrides := make(map[string]int)
	for _, s := range matrix.Series {
		if s.StaleDays != nil {
			overrides[s.ID] = *s.StaleDays
		}
	}

	ref := a.referenceTime(asOf)
	stale, err := status.IdentifyStale(f, ref, a.settings.StaleDaysDefault, overrides)
	if err != nil {
		return a.out.Fail(ExitFailure, ErrCodeRuntime, "failed to evaluate staleness", err)
	}
	if stale == nil {
		stale = []status.StaleSeries{}
	}
	return a.out.Success(staleListing{ReferenceDate: ref.Format(timeseries.DateLayout), Stale: stale})
}
