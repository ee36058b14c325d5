package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/macrolens/internal/providers/fred"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and the sources matrix",
		Long: `Load the configuration and the sources matrix without fetching anything.

Checks strict YAML decoding, the matrix schema, duplicate series ids and that
every series names a registered provider. Exits 2 on the first problem.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts)
		},
	}

	return cmd
}

type validationResult struct {
	Valid             bool     `json:"valid"`
	SourcesMatrixPath string   `json:"sources_matrix_path"`
	SeriesTotal       int      `json:"series_total"`
	SeriesEnabled     int      `json:"series_enabled"`
	Providers         []string `json:"providers"`
	FredAPIKeySet     bool     `json:"fred_api_key_set"`
	Warnings          []string `json:"warnings,omitempty"`
}

func (v validationResult) renderText(w io.Writer) {
	fmt.Fprintln(w, "Configuration OK")
	fmt.Fprintf(w, "  sources matrix: %s (%d series, %d enabled)\n", v.SourcesMatrixPath, v.SeriesTotal, v.SeriesEnabled)
	fmt.Fprintf(w, "  providers: %v\n", v.Providers)
	for _, warning := range v.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

func runValidate(cmd *cobra.Command, opts *RootOptions) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}

	matrix, err := a.loadMatrix()
	if err != nil {
		return err
	}
	a.out.VerboseLog("Loaded %d series from %s", len(matrix.Series), matrix.Path)

	registry := a.buildRegistry(nil)
	result := validationResult{
		Valid:             true,
		SourcesMatrixPath: matrix.Path,
		SeriesTotal:       len(matrix.Series),
		SeriesEnabled:     len(matrix.Enabled()),
		Providers:         registry.IDs(),
		FredAPIKeySet:     a.settings.FredAPIKey != "",
	}

	usesFred := false
	for _, s := range matrix.Series {
		if _, err := registry.Lookup(s.Provider); err != nil {
			return a.out.Fail(ExitCommandError, ErrCodeMatrix, fmt.Sprintf("series %s", s.ID), err)
		}
		if s.Enabled && s.Provider == fred.Name {
			usesFred = true
		}
	}
	if usesFred && !result.FredAPIKeySet {
		result.Warnings = append(result.Warnings, "FRED_API_KEY is not set; fred series will report missing")
	}

	return a.out.Success(result)
}
