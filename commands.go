package convert

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// cliState carries the objects built in PersistentPreRunE into the
// subcommand closures.
type cliState struct {
	cfg    *ExperimentConfig
	orch   *Orchestrator
	logger Logger
}

// NewCommand creates the Cobra command tree for the conversion CLI. The
// returned command can run standalone or be added to a parent CLI.
//
// Commands provided:
//   - run [--skip-publish] [--no-preflight]
//   - plan
//   - registry list [--framework <name>]
//   - remote list
//   - remote info <model>
//   - fetch <model> <framework> [precision] [--dest <dir>]
//   - doctor
//
// Global flags: --config, --log-level, --log-json, --profile, --json
func NewCommand(opts ...Option) *cobra.Command {
	var (
		configPath string
		logLevel   string
		logJSON    bool
		profile    string
		jsonOutput bool
	)

	// Config and orchestrator are created in PersistentPreRunE.
	st := &cliState{}

	cmd := &cobra.Command{
		Use:   "nlp-infer-bench",
		Short: "Convert and publish ML model artifacts",
		Long: "Convert models between inference runtimes using external exporter tools,\n" +
			"publish the converted artifacts to an object store, and track completed\n" +
			"conversions in a durable registry so repeated runs skip finished work.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			logger, err := NewZapLogger(LogConfig{Level: logLevel, JSON: logJSON})
			if err != nil {
				return err
			}
			st.logger = logger

			cfg, err := LoadExperimentConfig(configPath)
			if err != nil {
				return err
			}
			st.cfg = cfg

			all := append([]Option{WithLogger(logger), WithAWSProfile(profile)}, opts...)
			orch, err := New(cfg, all...)
			if err != nil {
				return fmt.Errorf("failed to initialize orchestrator: %w", err)
			}
			st.orch = orch
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "job.yaml", "Path to the job description file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
	cmd.PersistentFlags().StringVar(&profile, "profile", "", "AWS shared config profile for the object store")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	// Add subcommands
	cmd.AddCommand(runCmd(st))
	cmd.AddCommand(planCmd(st, &jsonOutput))
	cmd.AddCommand(registryCmd(st, &jsonOutput))
	cmd.AddCommand(remoteCmd(st, &jsonOutput))
	cmd.AddCommand(fetchCmd(st))
	cmd.AddCommand(doctorCmd(st, &jsonOutput))

	return cmd
}

func runCmd(st *cliState) *cobra.Command {
	var (
		skipPublish bool
		noPreflight bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the conversion job",
		Long:  "Convert every model in the job to every configured framework, publish the artifacts, and record them in the registry.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var opts []RunOption
			if skipPublish {
				opts = append(opts, WithSkipPublish())
			}
			if noPreflight {
				opts = append(opts, WithoutPreflight())
			}

			err := st.orch.Run(ctx, opts...)
			if report := st.orch.LastReport(); report != nil {
				fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&skipPublish, "skip-publish", false, "Convert locally without uploading to the object store")
	cmd.Flags().BoolVar(&noPreflight, "no-preflight", false, "Skip the external tool checks before converting")
	return cmd
}

func planCmd(st *cliState, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the task sequence without executing it",
		Long:  "Expand the job into its ordered task sequence: every model against every configured framework.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return outputPlan(cmd.OutOrStdout(), st.orch.Plan(), *jsonOutput)
		},
	}
}

func registryCmd(st *cliState, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the local artifact registry",
	}
	cmd.AddCommand(registryListCmd(st, jsonOutput))
	return cmd
}

func registryListCmd(st *cliState, jsonOutput *bool) *cobra.Command {
	var frameworks []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered conversions",
		Long:  "List the artifacts recorded in the registry, optionally filtered by framework.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := st.orch.Registry().Entries()
			if len(frameworks) > 0 {
				entries = st.orch.Registry().Filter(frameworks...)
			}
			return outputEntries(cmd.OutOrStdout(), entries, *jsonOutput)
		},
	}

	cmd.Flags().StringSliceVar(&frameworks, "framework", nil, "Only show entries for these frameworks")
	return cmd
}

func remoteCmd(st *cliState, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Inspect published artifacts in the object store",
	}
	cmd.AddCommand(remoteListCmd(st, jsonOutput))
	cmd.AddCommand(remoteInfoCmd(st, jsonOutput))
	return cmd
}

func remoteListCmd(st *cliState, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List published artifacts",
		Long:  "List the artifacts under the configured bucket location, one row per model and framework.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			artifacts, err := st.orch.ListRemote(ctx)
			if err != nil {
				return err
			}
			return outputRemoteArtifacts(cmd.OutOrStdout(), artifacts, *jsonOutput)
		},
	}
}

func remoteInfoCmd(st *cliState, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "info <model>",
		Short: "Show a model's published artifacts",
		Long:  "Show the remote index entries for one model: each published framework and precision with its location.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			entries, err := st.orch.RemoteInfo(ctx, args[0])
			if err != nil {
				return err
			}
			return outputRemoteInfo(cmd.OutOrStdout(), entries, *jsonOutput)
		},
	}
}

func fetchCmd(st *cliState) *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "fetch <model> <framework> [precision]",
		Short: "Download a published artifact",
		Long:  "Download a published artifact from the object store into a local directory. The precision defaults to the job's configured precision.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			precision := st.cfg.Conversion.Precision
			if len(args) == 3 {
				precision = args[2]
			}

			ok, err := st.orch.Fetch(ctx, args[0], args[1], precision, dest)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: no published artifact for %s [%s/%s]",
					ErrNotFound, args[0], args[1], precision)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Fetched %s [%s/%s]\n", args[0], args[1], precision)
			return nil
		},
	}

	cmd.Flags().StringVar(&dest, "dest", "", "Destination directory (defaults to the application data directory)")
	return cmd
}

func doctorCmd(st *cliState, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the external conversion tools",
		Long:  "Probe the external tool behind each configured framework and report its availability.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			checks := st.orch.Doctor(ctx)
			if err := outputChecks(cmd.OutOrStdout(), checks, *jsonOutput); err != nil {
				return err
			}
			for _, check := range checks {
				if !check.OK {
					return fmt.Errorf("%w: one or more conversion tools are unavailable", ErrExternalTool)
				}
			}
			return nil
		},
	}
}

// Output helpers

func outputPlan(w io.Writer, tasks []ConversionTask, asJSON bool) error {
	type planRow struct {
		Model     string `json:"model"`
		Framework string `json:"framework"`
		Precision string `json:"precision"`
		OutputDir string `json:"output_dir"`
	}

	rows := make([]planRow, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, planRow{
			Model:     task.Model.Name,
			Framework: task.Framework,
			Precision: task.Precision,
			OutputDir: task.OutputDir,
		})
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "Nothing to do")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tFRAMEWORK\tPRECISION\tOUTPUT")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Model, r.Framework, r.Precision, r.OutputDir)
	}
	return tw.Flush()
}

func outputEntries(w io.Writer, entries []RegistryEntry, asJSON bool) error {
	type entryRow struct {
		Model          string `json:"model"`
		Framework      string `json:"framework"`
		Precision      string `json:"precision"`
		Status         string `json:"status"`
		LocalPath      string `json:"local_path"`
		RemoteLocation string `json:"remote_location,omitempty"`
	}

	rows := make([]entryRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, entryRow{
			Model:          e.ModelName,
			Framework:      e.Framework,
			Precision:      e.Precision,
			Status:         e.Status().String(),
			LocalPath:      e.LocalPath,
			RemoteLocation: e.RemoteLocation,
		})
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "No conversions recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tFRAMEWORK\tPRECISION\tSTATUS\tREMOTE")
	for _, r := range rows {
		remote := r.RemoteLocation
		if remote == "" {
			remote = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Model, r.Framework, r.Precision, r.Status, remote)
	}
	return tw.Flush()
}

func outputRemoteArtifacts(w io.Writer, artifacts []RemoteArtifact, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(artifacts)
	}

	if len(artifacts) == 0 {
		fmt.Fprintln(w, "No artifacts published")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tFRAMEWORK\tPRECISIONS\tOBJECTS\tSIZE")
	for _, a := range artifacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			a.Model,
			a.Framework,
			strings.Join(a.Precisions, ","),
			a.Objects,
			formatSize(a.TotalSize),
		)
	}
	return tw.Flush()
}

func outputRemoteInfo(w io.Writer, entries map[string]map[string]RemoteIndexEntry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	frameworks := make([]string, 0, len(entries))
	for framework := range entries {
		frameworks = append(frameworks, framework)
	}
	sort.Strings(frameworks)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FRAMEWORK\tPRECISION\tLOCATION\tPUBLISHED")
	for _, framework := range frameworks {
		precisions := make([]string, 0, len(entries[framework]))
		for precision := range entries[framework] {
			precisions = append(precisions, precision)
		}
		sort.Strings(precisions)
		for _, precision := range precisions {
			e := entries[framework][precision]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				framework, precision, e.Location, e.PublishedAt.Format("2006-01-02 15:04"))
		}
	}
	return tw.Flush()
}

func outputChecks(w io.Writer, checks []ToolCheck, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(checks)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FRAMEWORK\tSTATUS\tDETAIL")
	for _, c := range checks {
		status := "ok"
		if !c.OK {
			status = "missing"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Framework, status, c.Detail)
	}
	return tw.Flush()
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
