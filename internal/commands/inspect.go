package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

type inspection struct {
	File       string              `json:"file"`
	FileType   model.FileType      `json:"file_type"`
	RowCount   int                 `json:"row_count"`
	Columns    []string            `json:"columns"`
	Suggested  model.ColumnMapping `json:"suggested_mappings"`
	Remembered bool                `json:"remembered"`
	Sample     []map[string]string `json:"sample_data"`
}

func newInspectCommand(root *rootOptions) *cobra.Command {
	var (
		sampleRows int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show the columns, suggested mapping and sample rows of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileType, data, err := root.readFile(args[0])
			if err != nil {
				return err
			}

			p, err := root.newPipeline(target{accountID: 1, currency: "EUR"}, root.logger(cmd))
			if err != nil {
				return err
			}
			defer p.cleanup()

			table, err := p.svc.ReadTable(cmd.Context(), fileType, data)
			if err != nil {
				return err
			}
			suggested, remembered := p.svc.SuggestMapping(cmd.Context(), table)

			in := inspection{
				File:       filepath.Base(args[0]),
				FileType:   table.Format(),
				RowCount:   table.Len(),
				Columns:    table.Columns(),
				Suggested:  suggested,
				Remembered: remembered,
			}
			for i, row := range table.Sample() {
				if i >= sampleRows {
					break
				}
				in.Sample = append(in.Sample, row.Values)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(in)
			}
			return printInspection(cmd.OutOrStdout(), in)
		},
	}

	cmd.Flags().IntVar(&sampleRows, "sample", 5, "sample rows to print")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of tables")

	return cmd
}

func printInspection(w io.Writer, in inspection) error {
	fmt.Fprintf(w, "%s (%s), %d rows\n\n", in.File, in.FileType, in.RowCount)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tCOLUMN")
	for _, f := range in.Suggested.Fields() {
		column := f[1]
		if column == "" {
			column = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\n", f[0], column)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if missing := in.Suggested.Missing(); len(missing) > 0 {
		fmt.Fprintf(w, "\nunmapped required fields: %s\n", strings.Join(missing, ", "))
	}

	if len(in.Sample) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(in.Columns, "\t"))
	for _, row := range in.Sample {
		values := make([]string, len(in.Columns))
		for i, c := range in.Columns {
			values[i] = row[c]
		}
		fmt.Fprintln(tw, strings.Join(values, "\t"))
	}
	return tw.Flush()
}
