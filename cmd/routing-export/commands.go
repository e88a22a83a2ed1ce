package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Sternrassler/routing-export/internal/config"
	"github.com/Sternrassler/routing-export/pkg/institutions"
	"github.com/Sternrassler/routing-export/pkg/logging"
	"github.com/Sternrassler/routing-export/pkg/metrics"
	"github.com/Sternrassler/routing-export/pkg/routing"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Output formats for the list command.
const (
	OutputFormatTable = "table"
	OutputFormatJSON  = "json"
	OutputFormatYAML  = "yaml"
)

// app carries the per-invocation viper instance and resolved configuration.
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "routing-export",
		Short: "Export bank routing numbers from the Plaid institutions API",
		Long: `Pages through Plaid's /institutions/get endpoint, optionally through a
forward proxy, and exports one CSV row per institution routing number.

Credentials are read from PLAID_CLIENT_ID and PLAID_SECRET, either from the
environment or from the dotenv file given by --env-file (default .env.local).`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("env-file", config.DefaultEnvFile, "dotenv file to read (ignored when missing)")
	flags.String("base-url", "", "Plaid API base URL (default https://sandbox.plaid.com)")
	flags.Bool("proxy", false, "route requests through the configured forward proxy")
	flags.String("proxy-host", "", "forward proxy host")
	flags.Int("proxy-port", 0, "forward proxy port when the host has none (default 8080)")
	flags.Int("page-size", 0, "institutions per request (default 500)")
	flags.Duration("delay", 0, "pause between page requests (default 30s)")
	flags.String("total-policy", "", "which upstream total ends pagination: latest, first, max")
	flags.Int("limit", 0, "stop after this many institutions (0 = all)")
	flags.Int("max-retries", 0, "retries for rate-limited requests (0 = none)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("metrics-file", "", "write Prometheus metrics to this file after the run")

	bindFlag(a.v, config.KeyEnvFile, flags.Lookup("env-file"))
	bindFlag(a.v, config.KeyBaseURL, flags.Lookup("base-url"))
	bindFlag(a.v, config.KeyProxyEnabled, flags.Lookup("proxy"))
	bindFlag(a.v, config.KeyProxyHost, flags.Lookup("proxy-host"))
	bindFlag(a.v, config.KeyProxyPort, flags.Lookup("proxy-port"))
	bindFlag(a.v, config.KeyPageSize, flags.Lookup("page-size"))
	bindFlag(a.v, config.KeyRequestDelay, flags.Lookup("delay"))
	bindFlag(a.v, config.KeyTotalPolicy, flags.Lookup("total-policy"))
	bindFlag(a.v, config.KeyLimit, flags.Lookup("limit"))
	bindFlag(a.v, config.KeyMaxRetries, flags.Lookup("max-retries"))
	bindFlag(a.v, config.KeyLogLevel, flags.Lookup("log-level"))
	bindFlag(a.v, config.KeyMetricsFile, flags.Lookup("metrics-file"))

	rootCmd.AddCommand(a.newExportCommand())
	rootCmd.AddCommand(a.newListCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// bindFlag binds a flag to key. Only flags set on the command line take
// precedence; unset flags fall through to environment, file and defaults.
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

func (a *app) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)

	return nil
}

// writeMetrics dumps metrics when --metrics-file is set. Failures are logged only.
func (a *app) writeMetrics() {
	if a.cfg.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		log.Warn().Err(err).Str("path", a.cfg.MetricsFile).Msg("Failed to write metrics")
	}
}

func (a *app) newExportCommand() *cobra.Command {
	var routingNumbers []string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch all institutions and write the routing-number CSV",
		Long: `Fetch every institution page by page and write one CSV row per routing
number with the header "Bank Name,Institution ID,Routing Number". An existing
output file is replaced only after the new one is fully written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.writeMetrics()

			result, err := institutions.ExportRoutingNumbers(cmd.Context(), a.cfg.Run, a.cfg.Output, routingNumbers)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s file saved successfully (%d institutions, %d rows).\n",
				result.Path, result.Institutions, result.Rows)
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "CSV output path (default bank_routing_numbers.csv)")
	cmd.Flags().StringSliceVarP(&routingNumbers, "routing-number", "r", nil, "only export institutions with these routing numbers")
	bindFlag(a.v, config.KeyOutput, cmd.Flags().Lookup("output"))

	return cmd
}

func (a *app) newListCommand() *cobra.Command {
	var (
		routingNumbers []string
		format         string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Fetch institutions and print them",
		Long:  "Fetch institutions (optionally filtered by routing number) and print them as a table, JSON or YAML.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.writeMetrics()

			var (
				found []routing.Institution
				err   error
			)
			if len(routingNumbers) > 0 {
				found, err = institutions.FetchInstitutionsByRoutingNumbers(cmd.Context(), a.cfg.Run, routingNumbers)
			} else {
				found, err = institutions.FetchAllInstitutions(cmd.Context(), a.cfg.Run)
			}
			if err != nil {
				return err
			}

			return renderInstitutions(cmd.OutOrStdout(), format, found)
		},
	}

	cmd.Flags().StringSliceVarP(&routingNumbers, "routing-number", "r", nil, "only list institutions with these routing numbers")
	cmd.Flags().StringVar(&format, "format", OutputFormatTable, "output format (table, json, yaml)")

	return cmd
}

func renderInstitutions(w io.Writer, format string, found []routing.Institution) error {
	switch format {
	case OutputFormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(found); err != nil {
			return fmt.Errorf("failed to encode institutions as JSON: %w", err)
		}
		return nil
	case OutputFormatYAML:
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()

		if err := encoder.Encode(found); err != nil {
			return fmt.Errorf("failed to encode institutions as YAML: %w", err)
		}
		return nil
	case OutputFormatTable:
		return renderInstitutionsTable(w, found)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderInstitutionsTable(w io.Writer, found []routing.Institution) error {
	if len(found) == 0 {
		_, _ = io.WriteString(w, "No institutions found\n")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Bank Name", "Institution ID", "Routing Numbers", "Countries", "OAuth")

	for _, inst := range found {
		_ = table.Append([]string{
			inst.Name,
			inst.InstitutionID,
			strings.Join(inst.RoutingNumbers, " "),
			strings.Join(inst.CountryCodes, " "),
			strconv.FormatBool(inst.OAuth),
		})
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Args:  cobra.NoArgs,
		// Skip config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "routing-export %s (%s)\n", version, commit)
			return nil
		},
	}
}
