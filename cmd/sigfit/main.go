package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"sigfit/adapters/excel"
	"sigfit/adapters/jsonstore"
	"sigfit/adapters/postgres"
	"sigfit/app"
	"sigfit/domain/core"
	"sigfit/domain/histogram"
	"sigfit/internal"
	"sigfit/internal/api"
	"sigfit/internal/config"
	"sigfit/internal/errors"
	"sigfit/internal/testkit"
	"sigfit/ports"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	input      string
	output     string
	variable   string
	logLevel   string

	cfg    *config.Config
	logger *internal.Logger
}

func main() {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:           "sigfit",
		Short:         "Profile-likelihood signal strength fit with a data-driven multijet background",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&c.input, "input", "i", "", "Histogram artifact (.json, .xlsx or .csv)")
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "", "Output directory")
	rootCmd.PersistentFlags().StringVar(&c.variable, "variable", "", "Observable to fit")
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "ERROR, WARN, INFO, DEBUG or TRACE")

	rootCmd.AddCommand(
		newFitCmd(c),
		newQCDCmd(c),
		newToyCmd(c),
		newServeCmd(c),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if c.logger != nil {
			c.logger.Error("%v", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(errors.ExitCode(err))
	}
}

// load reads .env, the configuration file and the environment, then applies
// command-line overrides.
func (c *cli) load(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return errors.ConfigInvalid(fmt.Sprintf("failed to load .env: %v", err))
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.Input.Path = c.input
	}
	if flags.Changed("output") {
		cfg.Output.Dir = c.output
	}
	if flags.Changed("variable") {
		cfg.Input.Variable = c.variable
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := internal.ParseLogLevel(cfg.Log.Level)
	c.cfg = cfg
	c.logger = internal.NewLogger(level, os.Stderr, cfg.Log.Format)
	return nil
}

// ledger connects to the fit-run ledger when a database URL is configured.
func (c *cli) ledger() (ports.ResultRepository, func(), error) {
	if c.cfg.Database.URL == "" {
		return nil, func() {}, nil
	}
	db, err := postgres.Connect(c.cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewFitRunRepository(db), func() { db.Close() }, nil
}

func newFitCmd(c *cli) *cobra.Command {
	var (
		runID      string
		cl         float64
		scanPoints int
		workers    int
		timeout    time.Duration
		noLedger   bool
	)

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Estimate the multijet background, fit the signal strength and write the report",
		Long: `Run the full pipeline on a histogram artifact and write a run directory
<output>/runs/<run-id>/ with the fit inputs, result.json, scan.csv, report.md and report.html.

Example: sigfit fit -i hists.json -o fit --cl 0.68`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("cl") {
				c.cfg.Fit.ConfidenceLevel = cl
			}
			if flags.Changed("scan-points") {
				c.cfg.Fit.ScanPoints = scanPoints
			}
			if flags.Changed("workers") {
				c.cfg.Fit.Workers = workers
			}
			if flags.Changed("timeout") {
				c.cfg.Fit.Timeout = timeout
			}
			if err := c.cfg.Validate(); err != nil {
				return err
			}

			var repo ports.ResultRepository
			if !noLedger {
				r, closeDB, err := c.ledger()
				if err != nil {
					return err
				}
				defer closeDB()
				repo = r
			}

			req := app.FitRequest{}
			if runID != "" {
				id, err := core.ParseRunID(runID)
				if err != nil {
					return errors.InvalidInput(err.Error())
				}
				req.RunID = id
			}

			out, err := app.NewFitService(c.cfg, repo, c.logger).Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Summary.Label)
			fmt.Fprintln(cmd.OutOrStdout(), out.Dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: generated)")
	cmd.Flags().Float64Var(&cl, "cl", 0.68, "Confidence level of the interval")
	cmd.Flags().IntVar(&scanPoints, "scan-points", 50, "Profile scan points across the plot range")
	cmd.Flags().IntVar(&workers, "workers", 4, "Parallel profile fits")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Budget for the whole fit")
	cmd.Flags().BoolVar(&noLedger, "no-ledger", false, "Do not record the run in the database")

	return cmd
}

func newQCDCmd(c *cli) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "qcd",
		Short: "Derive only the data-driven multijet template",
		Long: `Subtract the simulated processes from control-region data, clip negative bins
and scale into the signal region. The template is written under the data-driven
process name.

Example: sigfit qcd -i hists.json --out qcd.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.OpenStore(c.cfg.Input.Path, c.logger)
			if err != nil {
				return err
			}
			svc := app.NewFitService(c.cfg, nil, c.logger)
			est, err := svc.EstimateQCD(cmd.Context(), store)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s template for %s: integral %.3f ± %.3f, scale %g\n",
				c.cfg.Processes.DataDriven, c.cfg.Input.Variable, est.Template.Integral(), est.Template.IntegralError(), est.ScaleFactor)
			for i := 0; i < est.Template.NBins(); i++ {
				fmt.Fprintf(w, "  [%g, %g)  %10.3f ± %.3f\n", est.Template.BinLow(i), est.Template.BinHigh(i), est.Template.Content(i), est.Template.Error(i))
			}
			if len(est.ClippedBins) > 0 {
				fmt.Fprintf(w, "clipped bins: %v\n", est.ClippedBins)
			}

			if out == "" {
				return nil
			}
			name := c.cfg.Processes.DataDriven
			if name == "" {
				name = "QCD"
			}
			return writeHistograms(cmd.Context(), out, map[string]histogram.Histogram{name: est.Template})
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Write the template to this .json or .xlsx file")

	return cmd
}

func newToyCmd(c *cli) *cobra.Command {
	var (
		out       string
		shape     string
		mu        float64
		seed      uint64
		fluctuate bool
	)

	cmd := &cobra.Command{
		Use:   "toy",
		Short: "Write a synthetic histogram artifact",
		Long: `Generate a co-binned input set (signal, simulated backgrounds and data in the
signal and control regions) from known shapes. With --fluctuate the data and MC
contents are Poisson-fluctuated from a seeded source.

Example: sigfit toy --out toy.json --mu 1.1 --fluctuate --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := testkit.DefaultToySpec()
			spec.Variable = c.cfg.Input.Variable
			spec.DataProcess = c.cfg.Processes.Data
			spec.ControlRegion = histogram.Region(c.cfg.Input.ControlRegion)
			spec.SignalStrength = mu
			spec.Seed = seed
			spec.Fluctuate = fluctuate
			switch shape {
			case "peaked":
			case "flat":
				perBin := 4000 / float64(spec.NBins)
				spec.Signal.SR = testkit.Flat(perBin)
				spec.Signal.CR = testkit.Flat(perBin / 10)
			default:
				return errors.InvalidInput(fmt.Sprintf("unknown toy shape %q: want peaked or flat", shape))
			}

			gen, err := testkit.NewToyGenerator(spec)
			if err != nil {
				return errors.InvalidInput(err.Error())
			}
			toy, err := gen.Generate()
			if err != nil {
				return err
			}
			if err := writeHistograms(cmd.Context(), out, toy.Named()); err != nil {
				return err
			}
			c.logger.Info("wrote %d toy histograms (%s, mu=%g, seed=%d, fluctuate=%t) to %s",
				len(toy.Hists), shape, mu, seed, fluctuate, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "toy.json", "Output artifact (.json or .xlsx)")
	cmd.Flags().StringVar(&shape, "shape", "peaked", "Signal shape: peaked or flat")
	cmd.Flags().Float64Var(&mu, "mu", 1, "True signal strength")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "Random seed for fluctuations")
	cmd.Flags().BoolVar(&fluctuate, "fluctuate", false, "Poisson-fluctuate the contents")

	return cmd
}

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve finished runs over HTTP for plotting clients",
		Long: `Expose GET /healthz, /api/runs, /api/runs/:id, /api/runs/:id/scan and
/api/runs/:id/report from the output directory.

Example: sigfit serve -o fit --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				c.cfg.Server.Addr = addr
			}
			repo, closeDB, err := c.ledger()
			if err != nil {
				return err
			}
			defer closeDB()

			srv := api.NewServer(c.cfg.Output.Dir, repo, c.cfg.Server.GinMode, c.logger)
			return srv.Start(cmd.Context(), c.cfg.Server.Addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")

	return cmd
}

func writeHistograms(ctx context.Context, path string, hists map[string]histogram.Histogram) error {
	var w ports.HistogramWriter
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		w = jsonstore.Writer{}
	case ".xlsx":
		w = excel.Writer{}
	default:
		return errors.InvalidInput(fmt.Sprintf("unsupported output %s: want .json or .xlsx", path))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.IOError("create output directory", err)
		}
	}
	if err := w.WriteHistograms(ctx, path, hists); err != nil {
		return errors.IOError("write "+path, err)
	}
	return nil
}
