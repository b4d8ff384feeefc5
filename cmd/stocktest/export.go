package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var exportDir string

var exportCmd = &cobra.Command{
	Use:   "export-cache",
	Short: "Mirror cached bars into Parquet files",
	Long:  "Write every cached bar to <dir>/us/daily/<SYMBOL>/<YYYY>.parquet, merging with files already there.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir := exportDir
		if dir == "" {
			dir = cfg.Storage.ParquetDir
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		symbols, bars, err := a.ExportCache(cmd.Context(), dir)
		fmt.Printf("exported %d bars for %d symbols to %s\n", bars, symbols, dir)
		return err
	},
}

var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("stocktest", version)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "output directory (default storage.parquet_dir)")
	rootCmd.AddCommand(exportCmd, versionCmd)
}
