package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyeh/rx-pathways/internal/cloud"
	"github.com/gyeh/rx-pathways/internal/config"
	"github.com/gyeh/rx-pathways/internal/diagnosis"
	"github.com/gyeh/rx-pathways/internal/directory"
	"github.com/gyeh/rx-pathways/internal/filterview"
	"github.com/gyeh/rx-pathways/internal/hierarchy"
	"github.com/gyeh/rx-pathways/internal/model"
	"github.com/gyeh/rx-pathways/internal/output"
	"github.com/gyeh/rx-pathways/internal/progress"
	"github.com/gyeh/rx-pathways/internal/refdata"
	"github.com/gyeh/rx-pathways/internal/store"
	"github.com/gyeh/rx-pathways/internal/warehouse"
	"github.com/gyeh/rx-pathways/internal/worker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rx-pathways",
		Short: "Build and query drug-pathway hierarchy trees from intervention records",
	}

	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newFilterCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newBuildCmd() *cobra.Command {
	var (
		configFile  string
		inputFile   string
		minPatients int
		workers     int
		noProgress  bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build pathway trees for every filter window and variant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if minPatients > 0 {
				cfg.MinPatients = minPatients
			}
			if workers > 0 {
				cfg.Workers = workers
			}

			// Handle signals
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
				cancel()
			}()

			startTime := time.Now()

			extract, err := warehouse.ReadFile(inputFile)
			if err != nil {
				return fmt.Errorf("reading extract: %w", err)
			}
			if len(extract.Records) == 0 {
				return fmt.Errorf("no usable records in %s", inputFile)
			}
			fmt.Fprintf(os.Stderr, "Read %d records (%d skipped) from %s\n",
				len(extract.Records), extract.Skipped, inputFile)

			ref, err := refdata.Load(cfg.DrugGroupings, cfg.Conditions)
			if err != nil {
				return err
			}

			// Resolve a grouping for every record before building, so every
			// tree sees the same labels.
			assigner := directory.NewAssigner(ref, extract.Records)
			records := extract.Records
			for i := range records {
				records[i].Grouping = assigner.Assign(records[i]).Grouping
			}

			st, err := store.Open(ctx, cfg.Postgres)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Init(ctx); err != nil {
				return err
			}

			// Indication labels come from coded-diagnosis evidence, falling
			// back to the assigned grouping.
			drugByPatient, fallback := patientFirsts(records)
			matcher := &diagnosis.Matcher{
				Source:      &diagnosis.PGSource{Pool: st.Pool()},
				Ref:         ref,
				BatchSize:   cfg.MatchBatchSize,
				Concurrency: cfg.MatchConcurrency,
			}
			labels := matcher.Match(ctx, drugByPatient, fallback)

			var s3c *cloud.S3Client
			if cfg.S3.Bucket != "" {
				s3c, err = cloud.NewS3Client(ctx, cfg.S3.Bucket, cfg.S3.Region)
				if err != nil {
					return err
				}
			}

			var mgr progress.Manager
			if noProgress {
				mgr = progress.NewLogManager()
			} else {
				mgr = progress.NewMPBManager()
			}

			pool := &worker.Pool{Workers: cfg.Workers, Progress: mgr}
			jobs := worker.Jobs(cfg.FilterWindows(), model.Variants())

			results := pool.Run(ctx, jobs,
				func(ctx context.Context, job worker.Job, tracker progress.Tracker) (int, int, error) {
					params := hierarchy.Params{
						Window:      job.Window,
						Variant:     job.Variant,
						MinPatients: cfg.MinPatients,
						Now:         startTime,
					}
					if job.Variant == model.VariantIndication {
						params.Labels = labels
					}

					tracker.SetStage("building")
					result := hierarchy.Build(records, params)
					tracker.SetCounter("nodes", int64(len(result.Nodes)))

					tracker.SetStage("storing")
					if err := st.ReplaceTree(ctx, job.Window.Name, job.Variant, result.Nodes); err != nil {
						return 0, 0, err
					}
					if s3c != nil {
						tracker.SetStage("uploading")
						key := cloud.SnapshotKey(cfg.S3.Prefix, job.Window.Name, job.Variant)
						if err := s3c.UploadTree(ctx, key, result.Nodes); err != nil {
							return 0, 0, fmt.Errorf("uploading %s: %w", key, err)
						}
					}
					return len(result.Nodes), result.Patients, nil
				})
			mgr.Wait()

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "Error building %s: %v\n", r.Job.Name(), r.Err)
				}
			}

			duration := time.Since(startTime)
			fmt.Fprintf(os.Stderr, "\nBuild complete: %d trees built, %d failed in %.1fs\n",
				len(results)-failed, failed, duration.Seconds())
			if failed > 0 {
				return fmt.Errorf("%d of %d builds failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&inputFile, "input", "", "Warehouse extract (CSV, optionally .gz)")
	cmd.Flags().IntVar(&minPatients, "min-patients", 0, "Per-node disclosure threshold (overrides config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent tree builds (overrides config)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Log lines instead of progress bars")

	cmd.MarkFlagRequired("input")

	return cmd
}

func newFilterCmd() *cobra.Command {
	var (
		configFile string
		window     string
		variant    string
		drugList   string
		orgList    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Recompute a filtered view over a stored pathway tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			v := model.Variant(variant)
			if v != model.VariantDirectorate && v != model.VariantIndication {
				return fmt.Errorf("unknown variant %q", variant)
			}

			ctx := context.Background()
			st, err := store.Open(ctx, cfg.Postgres)
			if err != nil {
				return err
			}
			defer st.Close()

			nodes, err := st.LoadTree(ctx, window, v)
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				return fmt.Errorf("no stored tree for %s/%s", window, variant)
			}

			drugs := splitList(drugList)
			orgs := splitList(orgList)
			view := filterview.Recompute(nodes, filterview.NewInclusionSet(drugs, orgs))

			params := output.ViewParams{
				Window:        window,
				Variant:       variant,
				IncludedDrugs: drugs,
				IncludedOrgs:  orgs,
			}
			if err := output.WriteView(outputFile, params, view); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			fmt.Fprintf(os.Stderr, "View: %d nodes, %d patients, %d drugs\n",
				len(view.Nodes), view.Totals.Patients, view.Totals.Drugs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&window, "window", "all", "Filter window name")
	cmd.Flags().StringVar(&variant, "variant", string(model.VariantDirectorate), "Tree variant (directorate or indication)")
	cmd.Flags().StringVar(&drugList, "drugs", "", "Comma-separated drugs to include (empty = all)")
	cmd.Flags().StringVar(&orgList, "orgs", "", "Comma-separated organizations to include (empty = all)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "-", "Output file path (use '-' for stdout)")

	return cmd
}

// patientFirsts derives each patient's first drug line and first assigned
// grouping, in date order.
func patientFirsts(records []model.InterventionRecord) (drugs, groupings map[string]string) {
	byPatient := map[string][]model.InterventionRecord{}
	for _, r := range records {
		byPatient[r.PatientID] = append(byPatient[r.PatientID], r)
	}
	drugs = make(map[string]string, len(byPatient))
	groupings = make(map[string]string, len(byPatient))
	for id, recs := range byPatient {
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Date.Before(recs[j].Date) })
		drugs[id] = recs[0].Drug
		groupings[id] = recs[0].Grouping
	}
	return drugs, groupings
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
