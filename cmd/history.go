package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FranLegon/drive-upload/internal/model"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent uploads from the local journal",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of uploads to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	records, err := db.RecentUploads(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read upload journal: %w", err)
	}
	counts, err := db.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read upload journal: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tMODE\tSIZE\tRETRIES\tFILE ID\tPATH")
	for _, rec := range records {
		fileID := rec.FileID
		if rec.Status == model.UploadFailed {
			fileID = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			rec.StartedAt.Format("2006-01-02 15:04:05"), rec.Status, rec.Mode, rec.Size, rec.Retries, fileID, rec.Path)
	}
	w.Flush()

	fmt.Printf("\n%d completed, %d failed\n", counts[model.UploadCompleted], counts[model.UploadFailed])
	return nil
}
