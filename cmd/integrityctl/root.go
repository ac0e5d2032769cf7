package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmdatafocus/recipe_integrity/bootstrap"
	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

// OpenFunc builds the services a command runs against.
type OpenFunc func(ctx context.Context) (*bootstrap.Services, error)

type RootOptions struct {
	Format string
	open   OpenFunc
}

var validFormats = []string{"text", "json"}

// NewRootCommand wires every subcommand. A nil open loads settings and
// definitions from the environment.
func NewRootCommand(open OpenFunc) *cobra.Command {
	opts := &RootOptions{open: open}
	if opts.open == nil {
		opts.open = openFromEnv
	}

	cmd := &cobra.Command{
		Use:   "integrityctl",
		Short: "Recipe integrity operations",
		Long:  "Validate, inspect and repair product/recipe/template links across stores.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newHealthCommand(opts))
	cmd.AddCommand(newRepairCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newRuleCommand(opts))
	cmd.AddCommand(newReportCommand(opts))
	return cmd
}

func openFromEnv(ctx context.Context) (*bootstrap.Services, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(settings.LogLevel)
	logger.SetOutput(os.Stderr)

	defs, err := config.LoadDefinitions(settings.Integrity.DefinitionsFile)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, *settings, defs, logger)
}

// withServices opens the services for one command run and closes them afterwards.
func (o *RootOptions) withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *bootstrap.Services) error) error {
	ctx := utils.SetTriggerInContext(cmd.Context(), utils.TriggerCli)
	svc, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}

// print writes v as indented JSON, or through text when the format is text.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" || text == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
