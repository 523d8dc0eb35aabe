package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FranLegon/drive-upload/internal/api"
	"github.com/FranLegon/drive-upload/internal/auth"
	"github.com/FranLegon/drive-upload/internal/google"
	"github.com/FranLegon/drive-upload/internal/logger"
	"github.com/FranLegon/drive-upload/internal/task"
	"github.com/FranLegon/drive-upload/internal/upload"
)

var uploadFlags struct {
	account     string
	parent      string
	title       string
	description string
	mimeType    string
	fileID      string
	resumable   bool
	convert     bool
	ocr         bool
	ocrLanguage string
	indexable   bool
	pinned      bool
	concurrency int

	addParents    []string
	removeParents []string
}

var uploadCmd = &cobra.Command{
	Use:   "upload <path>...",
	Short: "Upload local files to Google Drive",
	Long: `Uploads each path as a new Drive file, or replaces the content of an existing
file with --update. Files at or above the resumable threshold (5 MiB by default)
are sent in 256 KiB-aligned chunks through a resumable session; transient
failures are retried with exponential backoff.

Tuning comes from the config and can be overridden with DRIVEUP_* variables,
e.g. DRIVEUP_CHUNK_SIZE=1048576 or DRIVEUP_MAX_RETRIES=10.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	f := uploadCmd.Flags()
	f.StringVarP(&uploadFlags.account, "account", "a", "", "Account email to upload as (default account if empty)")
	f.StringVarP(&uploadFlags.parent, "parent", "p", "", "ID of the folder to upload into")
	f.StringVarP(&uploadFlags.title, "title", "t", "", "Title of the uploaded file (single path only)")
	f.StringVar(&uploadFlags.description, "description", "", "Description of the uploaded file")
	f.StringVar(&uploadFlags.mimeType, "mime", "", "MIME type of the content (detected if empty)")
	f.StringVar(&uploadFlags.fileID, "update", "", "Replace the content of this file ID (single path only)")
	f.BoolVar(&uploadFlags.resumable, "resumable", false, "Always use a resumable session")
	f.BoolVar(&uploadFlags.convert, "convert", false, "Convert to the corresponding Google Docs format")
	f.BoolVar(&uploadFlags.ocr, "ocr", false, "Run OCR on image and PDF uploads")
	f.StringVar(&uploadFlags.ocrLanguage, "ocr-language", "", "ISO 639-1 language hint for --ocr")
	f.BoolVar(&uploadFlags.indexable, "indexable-text", false, "Use the content as indexable text")
	f.BoolVar(&uploadFlags.pinned, "pinned", false, "Pin the head revision")
	f.StringSliceVar(&uploadFlags.addParents, "add-parent", nil, "Folder ID to add the updated file to (with --update, repeatable)")
	f.StringSliceVar(&uploadFlags.removeParents, "remove-parent", nil, "Folder ID to remove the updated file from (with --update, repeatable)")
	f.IntVarP(&uploadFlags.concurrency, "concurrency", "c", 0, "Files uploaded at the same time (config value if 0)")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	if err := checkUploadFlags(len(args)); err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	account, err := cfg.Account(uploadFlags.account)
	if err != nil {
		return err
	}

	ctx, cancel := getContext()
	defer cancel()

	opts := cfg.Upload.Options()
	if verbose {
		opts = append(opts, upload.WithProgress(func(sent, total int64) {
			if total > 0 {
				logger.Debug("Progress: %d/%d bytes (%d%%)", sent, total, sent*100/total)
			}
		}))
	}

	oauthConfig := auth.OAuthConfig(cfg.GoogleClient.ID, cfg.GoogleClient.Secret)
	client, err := google.NewClient(ctx, account, oauthConfig, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Drive client: %w", err)
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	runner := task.NewRunner(client, db, safeMode)
	concurrency := cfg.Upload.Concurrency
	if uploadFlags.concurrency > 0 {
		concurrency = uploadFlags.concurrency
	}
	runner.SetConcurrency(concurrency)
	runner.SetOptions(api.UploadOptions{
		Convert:                   uploadFlags.convert,
		OCR:                       uploadFlags.ocr,
		OCRLanguage:               uploadFlags.ocrLanguage,
		Pinned:                    uploadFlags.pinned,
		UseContentAsIndexableText: uploadFlags.indexable,
		ForceResumable:            uploadFlags.resumable,
		AddParents:                uploadFlags.addParents,
		RemoveParents:             uploadFlags.removeParents,
	})

	items := make([]task.Item, 0, len(args))
	for _, path := range args {
		items = append(items, task.Item{
			Path:        path,
			Title:       uploadFlags.title,
			Description: uploadFlags.description,
			MimeType:    uploadFlags.mimeType,
			ParentID:    uploadFlags.parent,
			FileID:      uploadFlags.fileID,
		})
	}

	records, err := runner.UploadAll(ctx, items)
	for _, rec := range records {
		if rec.FileID != "" {
			fmt.Printf("%s\t%s\n", rec.FileID, rec.Path)
		}
	}
	return err
}

func checkUploadFlags(paths int) error {
	if paths > 1 && (uploadFlags.title != "" || uploadFlags.fileID != "") {
		return errors.New("--title and --update need exactly one path")
	}
	if uploadFlags.fileID == "" && (len(uploadFlags.addParents) > 0 || len(uploadFlags.removeParents) > 0) {
		return errors.New("--add-parent and --remove-parent need --update")
	}
	if uploadFlags.ocrLanguage != "" && !uploadFlags.ocr {
		return errors.New("--ocr-language needs --ocr")
	}
	return nil
}
