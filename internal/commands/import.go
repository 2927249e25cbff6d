package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/finance-import/internal/domain/import/committer"
	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	importservice "github.com/FACorreiaa/finance-import/internal/domain/import/service"
	"github.com/FACorreiaa/finance-import/internal/domain/import/session"
	"github.com/FACorreiaa/finance-import/pkg/money"
)

type importOptions struct {
	target
	mappings    []string
	defaultType string
	dryRun      bool
	previewRows int
	reportPath  string
	asJSON      bool
}

func newImportCommand(root *rootOptions) *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Map, validate and commit the rows of a file to an account",
		Long: `Reads the file, starts from the suggested column mapping and applies
every --map override. Without --dsn the rows go to an in-memory ledger, which
is useful to check what a file would produce.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, root, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.Int64Var(&opts.accountID, "account", 1, "account id to import into")
	flags.StringVar(&opts.currency, "currency", "EUR", "currency of the in-memory account")
	flags.StringVar(&opts.dsn, "dsn", "", "PostgreSQL connection string; empty uses an in-memory ledger")
	flags.StringArrayVar(&opts.mappings, "map", nil, "field=column override, repeatable (fields: date, amount, description, payee, category, transaction_type)")
	flags.StringVar(&opts.defaultType, "default-type", session.DefaultTransactionType, "transaction type for rows without a recognizable one")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "validate and preview without committing")
	flags.IntVar(&opts.previewRows, "preview", 10, "rows printed by --dry-run")
	flags.StringVar(&opts.reportPath, "report", "", "write skipped and failed rows to this CSV file")
	flags.BoolVar(&opts.asJSON, "json", false, "print JSON instead of tables")

	return cmd
}

// applyMappings overrides mapping with field=column pairs
func applyMappings(mapping model.ColumnMapping, pairs []string) (model.ColumnMapping, error) {
	for _, pair := range pairs {
		field, column, ok := strings.Cut(pair, "=")
		if !ok {
			return mapping, fmt.Errorf("invalid --map %q, want field=column", pair)
		}
		if err := mapping.Set(strings.TrimSpace(field), strings.TrimSpace(column)); err != nil {
			return mapping, err
		}
	}
	return mapping, nil
}

func runImport(cmd *cobra.Command, root *rootOptions, opts *importOptions, path string) error {
	ctx := cmd.Context()
	logger := root.logger(cmd)

	fileType, data, err := root.readFile(path)
	if err != nil {
		return err
	}
	p, err := root.newPipeline(opts.target, logger)
	if err != nil {
		return err
	}
	defer p.cleanup()

	table, err := p.svc.ReadTable(ctx, fileType, data)
	if err != nil {
		return err
	}
	suggested, _ := p.svc.SuggestMapping(ctx, table)
	mapping, err := applyMappings(suggested, opts.mappings)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.dryRun {
		preview, err := p.svc.StagePreview(ctx, table, mapping, opts.accountID, opts.defaultType, opts.previewRows)
		if err != nil {
			return err
		}
		if opts.asJSON {
			return writeJSON(out, preview)
		}
		return printPreview(out, preview)
	}

	result, err := p.svc.Commit(ctx, table, mapping, opts.accountID, opts.defaultType, importservice.CommitOptions{
		OnProgress: progressPrinter(cmd.ErrOrStderr()),
	})
	if err != nil {
		return err
	}

	if opts.reportPath != "" {
		if err := writeReport(opts.reportPath, result); err != nil {
			return err
		}
	}
	if opts.asJSON {
		return writeJSON(out, result)
	}
	printResult(out, result)
	if result.Failed > 0 {
		return fmt.Errorf("%d rows failed", result.Failed)
	}
	return nil
}

// progressPrinter reports roughly every tenth of the submitted rows
func progressPrinter(w io.Writer) committer.ProgressFunc {
	return func(p committer.Progress) {
		step := max(p.Total/10, 100)
		if p.Processed%step == 0 || p.Processed == p.Total {
			fmt.Fprintf(w, "committed %d/%d rows\n", p.Processed, p.Total)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeReport(path string, result *model.ImportResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	problems := result.Problems()
	if err := gocsv.Marshal(&problems, f); err != nil {
		f.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	return f.Close()
}

func printPreview(w io.Writer, preview *importservice.Preview) error {
	fmt.Fprintf(w, "%d rows: %d valid, %d invalid\n\n", preview.Total, preview.ValidCount, preview.InvalidCount)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tDATE\tAMOUNT\tTYPE\tDESCRIPTION\tPROBLEMS")
	for _, c := range preview.Rows {
		date := "-"
		if !c.Date.IsZero() {
			date = c.Date.Format("2006-01-02")
		}
		problems := make([]string, 0, len(c.Errors))
		for _, e := range c.Errors {
			problems = append(problems, e.Field+": "+e.Message)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			c.Line, date, c.Amount.StringFixed(2), c.Type, c.Description, strings.Join(problems, "; "))
	}
	return tw.Flush()
}

func printResult(w io.Writer, r *model.ImportResult) {
	net := money.New(r.NetMinor, r.Currency).Display()
	fmt.Fprintf(w, "batch %s into account %d\n", r.BatchID, r.AccountID)
	fmt.Fprintf(w, "created %d, skipped %d, failed %d, excluded %d, net %s\n",
		r.Created, r.Skipped, r.Failed, r.Excluded, net)
	if r.Cancelled {
		fmt.Fprintln(w, "the import was cancelled before every row was processed")
	}
}
