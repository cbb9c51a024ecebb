package cli

import (
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/portscout/internal/scheduler"
)

// schedulesCmd represents the schedules command
var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "List the scheduled scans of a running server",
	Args:  cobra.NoArgs,
	RunE:  runSchedulesList,
}

var schedulesRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Queue a scheduled scan immediately",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleNow,
}

func init() {
	rootCmd.AddCommand(schedulesCmd)
	schedulesCmd.AddCommand(schedulesRunCmd)

	schedulesCmd.Flags().StringVarP(&historyOutput, "output", "o", outputTable, "Output format: table, json")
}

func runSchedulesList(cmd *cobra.Command, _ []string) error {
	if err := checkOutput(historyOutput); err != nil {
		return err
	}
	client, err := apiClient()
	if err != nil {
		return err
	}

	var list struct {
		Schedules []scheduler.ScheduledJob `json:"schedules"`
		Total     int                      `json:"total"`
	}
	if err := client.Get(cmd.Context(), "/schedules", nil, &list); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyOutput == outputJSON {
		return writeJSON(out, list)
	}
	return printSchedules(out, list.Schedules)
}

func runScheduleNow(cmd *cobra.Command, args []string) error {
	client, err := apiClient()
	if err != nil {
		return err
	}

	var msg struct {
		Message string `json:"message"`
	}
	if err := client.Post(cmd.Context(), "/schedules/"+url.PathEscape(args[0])+"/run", nil, &msg); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), msg.Message)
	return err
}

func printSchedules(w io.Writer, jobs []scheduler.ScheduledJob) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, "No scheduled scans.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Name", "Cron", "Target", "Runs", "Next Run", "Last Error")
	for i := range jobs {
		job := &jobs[i]
		next := "-"
		if !job.NextRun.IsZero() {
			next = job.NextRun.Local().Format("2006-01-02 15:04")
		}
		target := fmt.Sprintf("%s:%d-%d", job.Request.Target, job.Request.StartPort, job.Request.EndPort)
		if err := table.Append([]string{
			job.ID.String(), job.Name, job.CronExpression, target,
			strconv.Itoa(job.Runs), next, truncate(job.LastError, maxBannerWidth),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
