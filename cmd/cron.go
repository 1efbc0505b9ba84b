package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linanwx/clawlink/cron"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled function calls",
	Long: `List, add and remove scheduled calls stored in cron.yaml. A running
'clawlink serve' picks up changes within a minute. Recurring calls can also be
declared under 'schedules' in config.yaml.`,
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored scheduled calls",
	RunE:  runCronList,
}

var cronAddCmd = &cobra.Command{
	Use:   "add <function> [key=value ...]",
	Short: "Schedule a function call",
	Long: `Add a scheduled call. Give exactly one of --expr or --at.

Examples:
  clawlink cron add --id morning-tasks --expr "0 9 * * *" list_tasks status=pending
  clawlink cron add --id remind --at 2026-01-15T09:00:00Z create_task title="Send invoice"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCronAdd,
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a scheduled call by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRemove,
}

var (
	cronAddID   string
	cronAddExpr string
	cronAddAt   string
)

func init() {
	rootCmd.AddCommand(cronCmd)
	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronAddCmd)
	cronCmd.AddCommand(cronRemoveCmd)

	cronAddCmd.Flags().StringVar(&cronAddID, "id", "", "Job ID (required)")
	cronAddCmd.Flags().StringVar(&cronAddExpr, "expr", "", "Cron expression (e.g., '0 9 * * *' or '@every 1h')")
	cronAddCmd.Flags().StringVar(&cronAddAt, "at", "", "One-shot time (RFC3339 or unix ms)")
	_ = cronAddCmd.MarkFlagRequired("id")
}

func loadCronStore() (*cron.Scheduler, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path, err := cfg.CronStorePath()
	if err != nil {
		return nil, err
	}
	s := cron.NewScheduler(path, nil)
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("failed to load cron store: %w", err)
	}
	return s, nil
}

func runCronList(_ *cobra.Command, _ []string) error {
	s, err := loadCronStore()
	if err != nil {
		return err
	}
	defer s.Stop()

	jobs := s.List()
	if len(jobs) == 0 {
		fmt.Println("No scheduled calls stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENABLED\tSCHEDULE\tFUNCTION")
	fmt.Fprintln(w, "--\t-------\t--------\t--------")
	for _, job := range jobs {
		schedule := job.Expr
		if job.Kind == cron.JobKindAt {
			schedule = "at " + job.AtTime.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", job.ID, job.Enabled, schedule, job.Function)
	}
	w.Flush()
	return nil
}

func runCronAdd(_ *cobra.Command, args []string) error {
	if (cronAddExpr == "") == (cronAddAt == "") {
		return fmt.Errorf("must specify exactly one of --expr or --at")
	}
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}

	s, err := loadCronStore()
	if err != nil {
		return err
	}
	defer s.Stop()

	if cronAddExpr != "" {
		err = s.Add(cronAddID, cronAddExpr, args[0], params.Any())
	} else {
		at, perr := parseAtTime(cronAddAt)
		if perr != nil {
			return perr
		}
		err = s.AddAt(cronAddID, at, args[0], params.Any())
	}
	if err != nil {
		return err
	}
	fmt.Printf("Scheduled call %s added.\n", cronAddID)
	return nil
}

func runCronRemove(_ *cobra.Command, args []string) error {
	s, err := loadCronStore()
	if err != nil {
		return err
	}
	defer s.Stop()

	if err := s.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("Scheduled call %s removed.\n", args[0])
	return nil
}

func parseAtTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: use RFC3339 or unix ms", raw)
	}
	return t, nil
}
