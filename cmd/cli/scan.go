package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/scanning"
)

// Output formats of the local commands.
const (
	outputTable = "table"
	outputJSON  = "json"
)

// scanOptions are the flags of the scan command.
type scanOptions struct {
	startPort   int
	endPort     int
	mode        string
	traversal   string
	threads     int
	fingerprint bool
	seed        int64
	output      string
}

var scanOpts scanOptions

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Scan a host for open TCP ports",
	Long: `Scan a single host for open TCP ports in this process.

The target may be a host name or an IPv4 address. Open ports are probed for
a banner and labelled with the service that answered. The result is not
recorded in any server history; use the API for that.`,
	Example: `  portscout scan example.com
  portscout scan 192.168.1.10 --start 1 --end 1024 --traversal adaptive
  portscout scan db.lan --start 5000 --end 5500 --threads 200 --output json
  portscout scan 10.0.0.5 --traversal bfs --seed 42`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <target>",
	Short: "Check that a target resolves",
	Long:  "Resolve a target to its IPv4 address without probing any ports.",
	Example: `  portscout validate example.com
  portscout validate 10.0.0.1`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

// lookupCmd represents the lookup command
var lookupCmd = &cobra.Command{
	Use:   "lookup <host-or-ip>",
	Short: "Resolve a host name or reverse resolve an IP address",
	Long: `Resolve a host name to its IPv4 address, or an IPv4 address to its PTR
name. Configured nameservers are queried directly, otherwise the system
resolver is used.`,
	Example: `  portscout lookup example.com
  portscout lookup 93.184.216.34`,
	Args: cobra.ExactArgs(1),
	RunE: runLookup,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(lookupCmd)

	defaults := scanning.DefaultScanRequest()
	flags := scanCmd.Flags()
	flags.IntVar(&scanOpts.startPort, "start", defaults.StartPort, "First port of the range")
	flags.IntVar(&scanOpts.endPort, "end", defaults.EndPort, "Last port of the range")
	flags.StringVar(&scanOpts.mode, "mode", defaults.Mode, "Scan mode: tcp, syn")
	flags.StringVar(&scanOpts.traversal, "traversal", "", "Port order: sequential, bfs, dfs, adaptive (default from config)")
	flags.IntVar(&scanOpts.threads, "threads", 0, "Concurrent probes (default from config)")
	flags.BoolVar(&scanOpts.fingerprint, "fingerprint", defaults.Fingerprint, "Read banners to identify services")
	flags.Int64Var(&scanOpts.seed, "seed", 0, "Seed for the bfs shuffle (0 = time seeded)")
	flags.StringVarP(&scanOpts.output, "output", "o", outputTable, "Output format: table, json")

	validateCmd.Flags().StringP("output", "o", outputTable, "Output format: table, json")
	lookupCmd.Flags().StringP("output", "o", outputTable, "Output format: table, json")
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// localLogger logs to stderr so stdout carries only command output.
func localLogger(cmd *cobra.Command) *logging.Logger {
	cfg := logging.Default().Config()
	cfg.Output = "stderr"
	return logging.NewWithWriter(cfg, cmd.ErrOrStderr())
}

func checkOutput(format string) error {
	switch format {
	case outputTable, outputJSON:
		return nil
	default:
		return fmt.Errorf("invalid output format '%s', expected table or json", format)
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := checkOutput(scanOpts.output); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	req := defaultRequest(cfg)
	req.Target = args[0]
	req.StartPort = scanOpts.startPort
	req.EndPort = scanOpts.endPort
	req.Mode = scanOpts.mode
	req.Fingerprint = scanOpts.fingerprint
	if scanOpts.traversal != "" {
		req.Traversal = scanOpts.traversal
	}
	if scanOpts.threads > 0 {
		req.Threads = scanOpts.threads
	}

	engine := newEngine(cfg, engineDeps{logger: localLogger(cmd), seed: scanOpts.seed})

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	result, err := engine.Scan(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scanOpts.output == outputJSON {
		return writeJSON(out, result)
	}
	return printScanResult(out, result)
}

func runValidate(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if err := checkOutput(output); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	ip, err := engineResolver(cfg).Resolve(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if output == outputJSON {
		return writeJSON(out, map[string]any{"valid": true, "target": args[0], "resolved_ip": ip})
	}
	_, err = fmt.Fprintf(out, "%s is valid and resolves to %s\n", args[0], ip)
	return err
}

func runLookup(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if err := checkOutput(output); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	result, err := scanning.Lookup(cmd.Context(), engineResolver(cfg), args[0], scanning.WithGeoLocator(geoLocator(cfg)))
	if err != nil {
		return errors.ErrInvalidRequest("Invalid input")
	}

	out := cmd.OutOrStdout()
	if output == outputJSON {
		return writeJSON(out, result)
	}
	if _, err := fmt.Fprintf(out, "Domain: %s\nIP:     %s\n", result.Domain, result.IP); err != nil {
		return err
	}
	switch {
	case result.Geolocation != nil:
		loc := result.Geolocation
		_, err = fmt.Fprintf(out, "Location: %s, %s, %s (%.4f, %.4f)\nISP:    %s\n",
			loc.City, loc.Region, loc.Country, loc.Lat, loc.Lon, loc.ISP)
	case result.GeolocationError != "":
		_, err = fmt.Fprintf(out, "Location: %s\n", result.GeolocationError)
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printScanResult writes a scan summary followed by a table of open ports.
func printScanResult(w io.Writer, result *scanning.ScanResult) error {
	if _, err := fmt.Fprintf(w, "Scan %s of %s (%s)\nPorts %s via %s, %d scanned in %.2fs\n\n",
		result.ScanID, result.Target, result.ResolvedIP,
		result.PortRange, result.Traversal, result.TotalPortsScanned, result.ScanDuration); err != nil {
		return err
	}

	if len(result.PortDetails) == 0 {
		if _, err := fmt.Fprintln(w, "No open ports found."); err != nil {
			return err
		}
	} else {
		table := tablewriter.NewWriter(w)
		table.Header("Port", "Status", "Service", "Banner")
		for _, p := range result.PortDetails {
			banner := ""
			if p.Banner != nil {
				banner = truncate(*p.Banner, maxBannerWidth)
			}
			if err := table.Append([]string{strconv.Itoa(p.Port), p.Status, p.Service, banner}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "\nRisk level: %s\n", result.RiskLevel)
	return err
}

const maxBannerWidth = 48

// truncate shortens s to n runes on a single line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
