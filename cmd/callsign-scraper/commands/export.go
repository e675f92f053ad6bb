package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizkut/callsignscrapper/store"
)

var exportOut string

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "-", "CSV output file, - for stdout.")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Writes every stored assignment as CSV.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.store.Records.All()
		if err != nil {
			return err
		}
		if exportOut == "" || exportOut == "-" {
			return writeCSV(cmd.OutOrStdout(), records)
		}
		if err := exportFile(exportOut, records); err != nil {
			return err
		}
		a.log.Info("exported records", zap.Int("count", len(records)), zap.String("file", exportOut))
		return nil
	},
}

func writeCSV(w io.Writer, records []store.Assignment) error {
	if err := store.WriteCSV(w, records); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

func exportFile(path string, records []store.Assignment) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := writeCSV(f, records); err != nil {
		return err
	}
	return f.Sync()
}
