package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkoppmann/backsched/internal/models"
	"github.com/mkoppmann/backsched/internal/schedule"
)

var simulateDays int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schedule verdict for every target",
	Long: `Show, for every configured target, which level is due or when one
becomes due, the latest safe start time, and the per-level states.

With --days N, additionally project the runs each target would perform over
the next N days, assuming every run starts on time and succeeds.`,
	RunE: showStatus,
}

func init() {
	statusCmd.Flags().IntVar(&simulateDays, "days", 0, "also project the schedule this many days ahead")
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	r, st, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	coordinator := r.Coordinator()
	now := time.Now()

	for _, tv := range coordinator.Evaluate(now) {
		fmt.Printf("Target: %s\n", tv.Target)
		if tv.Err != nil {
			fmt.Printf("  ERROR: %v\n", tv.Err)
			fmt.Println()
			continue
		}

		v := tv.Verdict
		switch {
		case v.Never():
			fmt.Println("  Due: never (all levels disabled or blocked)")
		case v.DueLevel != models.LevelNone:
			fmt.Printf("  Due: %s now (deadline was %s)\n", v.DueLevel, v.DueAt.Format(time.RFC3339))
			if v.Overdue() {
				fmt.Printf("  Overdue by: %s\n", now.Sub(v.LatestSafeStart).Round(time.Second))
			}
		default:
			fmt.Printf("  Next due: %s\n", v.DueAt.Format(time.RFC3339))
			fmt.Printf("  Latest safe start: %s (in %s)\n",
				v.LatestSafeStart.Format(time.RFC3339), v.Urgency.Round(time.Second))
		}

		for _, lv := range v.Levels {
			switch lv.State {
			case models.StateDisabled:
				fmt.Printf("  %s: disabled\n", lv.Level)
			case models.StateBlocked:
				fmt.Printf("  %s: blocked on %s\n", lv.Level, lv.BlockedOn)
			case models.StateDue:
				fmt.Printf("  %s: due since %s\n", lv.Level, lv.DueAt.Format(time.RFC3339))
			case models.StatePending:
				fmt.Printf("  %s: due at %s\n", lv.Level, lv.DueAt.Format(time.RFC3339))
			}
		}

		if simulateDays > 0 {
			target, _ := coordinator.Target(tv.Target)
			planned, err := schedule.Simulate(
				coordinator.Engine(), target, now, now.Add(time.Duration(simulateDays)*24*time.Hour))
			if err != nil {
				return err
			}
			fmt.Printf("  Projected runs over the next %d day(s):\n", simulateDays)
			if len(planned) == 0 {
				fmt.Println("    none")
			}
			for _, p := range planned {
				fmt.Printf("    %s  %s\n", p.Start.Format(time.RFC3339), p.Level)
			}
		}

		fmt.Println()
	}

	return nil
}
