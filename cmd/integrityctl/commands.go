package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmdatafocus/recipe_integrity/bootstrap"
	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/report"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the integrity tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				if svc.DB == nil {
					return errors.New("migrate needs a sql datastore (DB_DRIVER=mysql|sqlite)")
				}
				if err := models.MigrateTable(svc.DB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func parseIds(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <product-id>...",
		Short: "Classify products and report whether they can deduct inventory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIds(args)
			if err != nil {
				return err
			}
			return opts.withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				results := svc.Validator.ValidateBatch(ctx, ids)
				ordered := make([]models.ValidationResult, 0, len(results))
				for _, id := range ids {
					if res, ok := results[id]; ok {
						ordered = append(ordered, res)
						delete(results, id)
					}
				}
				return opts.print(cmd.OutOrStdout(), ordered, func(w io.Writer) {
					for _, r := range ordered {
						fmt.Fprintf(w, "%d\t%s\tcan_deduct=%t\t%s\n", r.ProductId, r.Status, r.CanDeduct, r.Reason)
					}
				})
			})
		},
	}
}

func newHealthCommand(opts *RootOptions) *cobra.Command {
	var storeId int
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show store health, worst first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				var all []models.HealthMetrics
				if storeId > 0 {
					all = []models.HealthMetrics{svc.Health.StoreHealth(ctx, storeId)}
				} else {
					var err error
					if all, err = svc.Health.GlobalHealth(ctx); err != nil {
						return err
					}
				}
				return opts.print(cmd.OutOrStdout(), all, func(w io.Writer) {
					for _, m := range all {
						fmt.Fprintf(w, "%d\t%s\t%d%%\t%s\tvalid=%d/%d\n", m.StoreId, m.StoreName, m.HealthPct, m.Trend, m.Valid, m.Total)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&storeId, "store", 0, "only this store")
	return cmd
}

func newRepairCommand(opts *RootOptions) *cobra.Command {
	var storeId, productId int
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair broken links of one store or one product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (storeId > 0) == (productId > 0) {
				return errors.New("exactly one of --store or --product is required")
			}
			return opts.withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				var summary models.RepairSummary
				if storeId > 0 {
					summary = svc.Repair.RepairStore(ctx, storeId)
				} else {
					summary = svc.Repair.RepairProduct(ctx, productId)
				}
				return opts.print(cmd.OutOrStdout(), summary, func(w io.Writer) {
					fmt.Fprintf(w, "store %d: attempted=%d successful=%d failed=%d unresolved=%v\n",
						summary.StoreId, summary.Attempted, summary.Successful, summary.Failed, summary.Unresolved)
					for _, e := range summary.Log {
						fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\n", e.ProductId, e.IssueType, e.Action, e.Outcome, e.Error)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&storeId, "store", 0, "store id")
	cmd.Flags().IntVar(&productId, "product", 0, "product id")
	return cmd
}

func newSyncCommand(opts *RootOptions) *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "sync <cluster-id>",
		Short: "Run an integrity sync over a cluster; exits non-zero unless every store succeeds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				run, err := svc.Sync.Sync(ctx, args[0], models.SyncStrategy(strategy))
				if err != nil {
					return err
				}
				if err := opts.print(cmd.OutOrStdout(), run, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s (%s): %d/%d stores, %d items, %dms\n",
						run.ClusterId, run.Status, run.Strategy,
						run.Metrics.SuccessfulStores, len(run.PerStoreResults),
						run.Metrics.TotalItems, run.Metrics.TotalDurationMs)
					for _, r := range run.PerStoreResults {
						fmt.Fprintf(w, "  store %d\tsuccess=%t\titems=%d\terrors=%v\n", r.StoreId, r.Success, r.ItemsProcessed, r.Errors)
					}
				}); err != nil {
					return err
				}
				return run.Err()
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "override the cluster strategy")
	return cmd
}

func newRuleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rule <rule-id>",
		Short: "Execute one automation rule now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				exec, err := svc.Workflow.ExecuteRule(ctx, args[0], utils.TriggerCli)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), exec, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s\n", exec.RuleId, exec.Status)
					for _, a := range exec.Results {
						fmt.Fprintf(w, "  %s\tsuccess=%t\t%s%s\n", a.Type, a.Success, a.Message, a.Error)
					}
				})
			})
		},
	}
}

func newReportCommand(opts *RootOptions) *cobra.Command {
	var out string
	var upload bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export global health as an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" && !upload {
				return errors.New("--out or --upload is required")
			}
			return opts.withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				all, err := svc.Health.GlobalHealth(ctx)
				if err != nil {
					return err
				}
				sort.SliceStable(all, func(i, j int) bool { return all[i].StoreId < all[j].StoreId })

				var buf bytes.Buffer
				if err := report.WriteHealthWorkbook(&buf, all); err != nil {
					return err
				}
				if out != "" {
					if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d stores)\n", out, len(all))
				}
				if upload {
					client, err := report.NewGCSClient(ctx, svc.Settings.Report)
					if err != nil {
						return err
					}
					defer client.Close()
					object := report.ObjectName(time.Now())
					if err := report.UploadToGCS(ctx, client, svc.Settings.Report.GCSBucket, object, buf.Bytes()); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "uploaded gs://%s/%s\n", svc.Settings.Report.GCSBucket, object)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the workbook to this file")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the workbook to GCS_BUCKET")
	return cmd
}
