package cli

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/portscout/internal/history"
	"github.com/anstrom/portscout/internal/report"
	"github.com/anstrom/portscout/internal/scanning"
)

var (
	historyPage    int
	historyPerPage int
	historyFilter  string
	historySort    string
	historyOutput  string
	reportFormat   string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse the scan history of a running server",
	Long: `List, show and delete scans recorded by a running portscout server.
Without a subcommand the first page of the history is listed.`,
	Example: `  portscout history
  portscout history list --filter high_risk --sort risk_desc
  portscout history show scan_1a2b3c4d
  portscout history delete scan_1a2b3c4d
  portscout history clear`,
	RunE: runHistoryList,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded scans",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "Show one recorded scan",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <scan-id>",
	Short: "Delete one recorded scan",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every recorded scan",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dashboard statistics of a running server",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report <scan-id>",
	Short: "Print the security report of a recorded scan",
	Long: `Fetch a recorded scan from a running server and print its security
report with the open ports, a risk rating and recommendations.`,
	Example: `  portscout report scan_1a2b3c4d
  portscout report scan_1a2b3c4d --format json > report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.PersistentFlags().String("server", "", "API server URL (default from the api section of the config)")
	bindFlags(rootCmd.PersistentFlags(), map[string]string{"server": "server"})

	rootCmd.AddCommand(historyCmd, statsCmd, reportCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyClearCmd)

	for _, cmd := range []*cobra.Command{historyCmd, historyListCmd} {
		flags := cmd.Flags()
		flags.IntVar(&historyPage, "page", 1, "Page number")
		flags.IntVar(&historyPerPage, "per-page", 10, "Scans per page")
		flags.StringVar(&historyFilter, "filter", string(history.FilterAll), "Risk filter: all, high_risk, medium_risk, low_risk")
		flags.StringVar(&historySort, "sort", string(history.SortDateDesc), "Sort order: date_desc, date_asc, risk_desc")
	}
	for _, cmd := range []*cobra.Command{historyCmd, historyListCmd, historyShowCmd, statsCmd} {
		cmd.Flags().StringVarP(&historyOutput, "output", "o", outputTable, "Output format: table, json")
	}
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", string(report.FormatText), "Report format: text, json")
}

// apiClient builds a client for the server named by --server or the config.
func apiClient() (*APIClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return NewAPIClient(serverURL(cfg, viper.GetString("server"))), nil
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	if err := checkOutput(historyOutput); err != nil {
		return err
	}
	client, err := apiClient()
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(historyPage))
	query.Set("per_page", strconv.Itoa(historyPerPage))
	query.Set("filter", historyFilter)
	query.Set("sort", historySort)

	var page history.Page
	if err := client.Get(cmd.Context(), "/history", query, &page); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyOutput == outputJSON {
		return writeJSON(out, page)
	}
	return printHistoryPage(out, &page)
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	if err := checkOutput(historyOutput); err != nil {
		return err
	}
	client, err := apiClient()
	if err != nil {
		return err
	}

	var result scanning.ScanResult
	if err := client.Get(cmd.Context(), "/history/"+url.PathEscape(args[0]), nil, &result); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyOutput == outputJSON {
		return writeJSON(out, result)
	}
	return printScanResult(out, &result)
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	client, err := apiClient()
	if err != nil {
		return err
	}

	var msg struct {
		Message string `json:"message"`
	}
	if err := client.Delete(cmd.Context(), "/history/"+url.PathEscape(args[0]), &msg); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), msg.Message)
	return err
}

func runHistoryClear(cmd *cobra.Command, _ []string) error {
	client, err := apiClient()
	if err != nil {
		return err
	}

	var msg struct {
		Message string `json:"message"`
	}
	if err := client.Delete(cmd.Context(), "/history/clear", &msg); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), msg.Message)
	return err
}

// statsResponse mirrors the body of GET /stats.
type statsResponse struct {
	history.GlobalStats
	User    string        `json:"user"`
	History history.Stats `json:"history"`
}

func runStats(cmd *cobra.Command, _ []string) error {
	if err := checkOutput(historyOutput); err != nil {
		return err
	}
	client, err := apiClient()
	if err != nil {
		return err
	}

	var stats statsResponse
	if err := client.Get(cmd.Context(), "/stats", nil, &stats); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyOutput == outputJSON {
		return writeJSON(out, stats)
	}
	return printStats(out, &stats)
}

func runReport(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(reportFormat)
	if err != nil {
		return err
	}
	client, err := apiClient()
	if err != nil {
		return err
	}

	var result scanning.ScanResult
	if err := client.Get(cmd.Context(), "/history/"+url.PathEscape(args[0]), nil, &result); err != nil {
		return err
	}

	body, err := client.PostRaw(cmd.Context(), "/scan/export?format="+string(format), report.FromScanResult(&result))
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(body)
	return err
}

func printHistoryPage(w io.Writer, page *history.Page) error {
	if len(page.History) == 0 {
		_, err := fmt.Fprintln(w, "No scans recorded.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Scan ID", "Target", "Ports", "Open", "Risk", "Duration", "Date")
	for _, scan := range page.History {
		if err := table.Append([]string{
			scan.ScanID,
			scan.Target,
			scan.PortRange,
			strconv.Itoa(scan.OpenPortsCount),
			string(scan.RiskLevel),
			fmt.Sprintf("%.2fs", scan.ScanDuration),
			scan.Timestamp.Local().Format("2006-01-02 15:04"),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	p := page.Pagination
	_, err := fmt.Fprintf(w, "Page %d of %d, %d scans (%d high risk, %d medium risk)\n",
		p.Page, max(p.TotalPages, 1), p.TotalItems, page.Summary.HighRiskScans, page.Summary.MediumRiskScans)
	return err
}

func printStats(w io.Writer, stats *statsResponse) error {
	table := tablewriter.NewWriter(w)
	table.Header("Statistic", "Value")
	for _, row := range [][]string{
		{"Scans today", strconv.Itoa(stats.History.ScansToday)},
		{"Total scans", strconv.Itoa(stats.History.TotalScans)},
		{"Threats found", strconv.Itoa(stats.History.ThreatsFound)},
		{"Security score", strconv.Itoa(stats.History.SecurityScore)},
		{"Last scan", formatOptionalTime(stats.History.LastScan)},
		{"Server scans", strconv.Itoa(stats.TotalScans)},
		{"Server open ports", strconv.Itoa(stats.TotalOpenPorts)},
		{"Server threats", strconv.Itoa(stats.TotalThreats)},
	} {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
