package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"tomgalvin.uk/niimprint/internal/config"
	"tomgalvin.uk/niimprint/internal/printer"
	"tomgalvin.uk/niimprint/internal/protocol"
)

var (
	cmdStatus = &cobra.Command{
		Use:   "status",
		Short: "Ask the printer for its status and show what it replies",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
)

var statusRFID bool
var statusWait time.Duration

func init() {
	rootCmd.AddCommand(cmdStatus)
	cmdStatus.Flags().BoolVar(&statusRFID, "rfid", false, "Also query the RFID tag of the loaded labels")
	cmdStatus.Flags().DurationVarP(&statusWait, "wait", "w", 2*time.Second, "How long to wait for a reply")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context(), statusConfig(conf), nil)
	if err != nil {
		return err
	}
	defer s.Close()

	queries := []func(context.Context) error{s.controller.QueryStatus}
	if statusRFID {
		queries = append(queries, s.controller.QueryRFID)
	}

	for _, query := range queries {
		status, err := queryAndWait(cmd.Context(), s.controller, query, statusWait)
		if err != nil {
			return err
		}
		showStatus(status)
	}
	return nil
}

// statusConfig turns heartbeats off, so the only notifications arriving are
// replies to the queries.
func statusConfig(c *config.Config) *config.Config {
	quiet := *c
	timing := *c.Timing
	timing.HeartbeatInterval = "0s"
	quiet.Timing = &timing
	return &quiet
}

// queryAndWait sends one query and waits for the notification that follows
// it. The query has been written to the printer once it returns.
func queryAndWait(ctx context.Context, c *printer.Controller, query func(context.Context) error, wait time.Duration) (printer.Status, error) {
	if err := query(ctx); err != nil {
		return printer.Status{}, err
	}
	return waitForReply(ctx, c, time.Now(), wait), nil
}

// waitForReply polls the controller until a notification newer than since
// arrives, or the wait runs out.
func waitForReply(ctx context.Context, c *printer.Controller, since time.Time, wait time.Duration) printer.Status {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		status := c.Status()
		if status.LastNotified.After(since) {
			return status
		}
		select {
		case <-ctx.Done():
			return status
		case <-ticker.C:
		}
	}
}

func showStatus(s printer.Status) {
	bold := color.New(color.Bold)
	bold.Print("State:       ")
	fmt.Println(s.State)
	bold.Print("Frames sent: ")
	fmt.Println(s.FramesSent)

	bold.Print("Reply:       ")
	if len(s.LastNotification) == 0 {
		color.Yellow("none")
	} else if f, err := protocol.ParseFrame(s.LastNotification); err != nil {
		color.Red("%x (%v)", s.LastNotification, err)
	} else {
		fmt.Printf("%s %x (at %s)\n", f.Code(), f.Payload(), s.LastNotified.Format(time.TimeOnly))
	}

	if s.LastError != "" {
		bold.Print("Last error:  ")
		color.Red("%s", s.LastError)
	}
}
