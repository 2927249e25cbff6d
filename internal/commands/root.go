// Package commands implements the importctl command line
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	"github.com/FACorreiaa/finance-import/internal/domain/import/normalizer"
	"github.com/FACorreiaa/finance-import/internal/domain/import/parser"
	"github.com/FACorreiaa/finance-import/pkg/logging"
)

type rootOptions struct {
	fileType     string
	numberFormat string
	dateFormats  []string
	maxRows      int
	logLevel     string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "importctl",
		Short: "Inspect and import CSV and Excel bank exports",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.fileType, "type", "", "file type (csv, excel, xls); detected from the extension when empty")
	flags.StringVar(&opts.numberFormat, "number-format", "auto", "amount format: auto, us or eu")
	flags.StringArrayVar(&opts.dateFormats, "date-format", nil, "Go date layout, repeatable; replaces the built-in layouts")
	flags.IntVar(&opts.maxRows, "max-rows", parser.DefaultConfig().MaxRows, "maximum data rows per file")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level for diagnostics on stderr")

	rootCmd.AddCommand(newInspectCommand(opts))
	rootCmd.AddCommand(newImportCommand(opts))

	return rootCmd
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	return logging.New(o.logLevel, "text", cmd.ErrOrStderr())
}

func (o *rootOptions) coercer() (*normalizer.Coercer, error) {
	format, err := normalizer.ParseNumberFormat(o.numberFormat)
	if err != nil {
		return nil, err
	}
	return normalizer.NewCoercer(normalizer.Config{
		DateFormats:  o.dateFormats,
		NumberFormat: format,
	}), nil
}

func (o *rootOptions) reader() *parser.Reader {
	config := parser.DefaultConfig()
	config.MaxRows = o.maxRows
	return parser.NewReader(config)
}

// readFile loads path and resolves its file type
func (o *rootOptions) readFile(path string) (model.FileType, []byte, error) {
	var (
		fileType model.FileType
		err      error
	)
	if o.fileType != "" {
		fileType, err = model.ParseFileType(o.fileType)
	} else {
		fileType, err = model.DetectFileType(filepath.Base(path))
	}
	if err != nil {
		return "", nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return fileType, data, nil
}
