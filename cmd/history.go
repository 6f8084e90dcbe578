package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	cmdHistory = &cobra.Command{
		Use:   "history",
		Short: "List recently printed labels",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
)

var historyLimit int

func init() {
	rootCmd.AddCommand(cmdHistory)
	cmdHistory.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of jobs to list, 0 for all")
}

func runHistory(_ *cobra.Command, _ []string) error {
	repo := openHistory(conf)
	if repo == nil {
		return errors.New("job history is unavailable")
	}
	defer repo.Close()

	records, err := repo.List(historyLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTARTED\tSIZE\tDENSITY\tLINES\tFRAMES\tDURATION\tOUTCOME")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%d\t%d\t%d\t%s\t%s\n",
			r.Uuid,
			r.CreatedAt.Local().Format(time.DateTime),
			r.Width, r.Height,
			r.Density,
			r.Lines,
			r.Frames,
			r.Duration().Round(time.Millisecond),
			outcomeColor(r.Outcome).Sprint(r.Outcome),
		)
	}
	return tw.Flush()
}
