package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/streakwatch/internal/config"
	"github.com/sells-group/streakwatch/internal/model"
)

// errRunFailed makes the process exit non-zero after a failed run. The
// Outcome has already been printed, so cobra's own error output is enough.
var errRunFailed = eris.New("check: run failed")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check today's contributions once and alert if there are none",
	RunE: func(cmd *cobra.Command, args []string) error {
		outcome, err := runCheck(cmd, cfg)
		if err != nil {
			return err
		}
		if err := printOutcome(cmd.OutOrStdout(), outcome); err != nil {
			return err
		}
		if !outcome.Succeeded() {
			return errRunFailed
		}
		return nil
	},
}

// runCheck validates c and performs a single monitor run. Invalid
// configuration is reported as a ConfigMissing outcome, not an error, so
// it is printed like any other result.
func runCheck(cmd *cobra.Command, c *config.Config) (model.Outcome, error) {
	if err := c.Validate(); err != nil {
		return model.FailureOutcome(err), nil
	}

	env, err := initMonitor(cmd.Context(), c)
	if err != nil {
		return model.Outcome{}, err
	}
	defer env.Close()

	return env.Pipeline.Run(cmd.Context()), nil
}

func printOutcome(w io.Writer, o model.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(o); err != nil {
		return eris.Wrap(err, "check: encode outcome")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
