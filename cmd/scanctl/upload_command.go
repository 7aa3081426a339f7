package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/spartis/scanviewer/internal/client"
	"github.com/spartis/scanviewer/internal/models"
	"github.com/spartis/scanviewer/internal/navigator"
	"github.com/spartis/scanviewer/internal/upload"
)

type uploadOptions struct {
	Path       string
	Uploader   upload.Uploader
	Interval   time.Duration
	ViewerBase string
	Out        io.Writer // viewer link
	Err        io.Writer // progress and alerts
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration
	var viewerBase string

	cmd := &cobra.Command{
		Use:   "upload <scan.nii.gz>",
		Short: "Upload a scan, follow processing and print the viewer link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			backend := ctx.backendURL()
			if interval <= 0 {
				interval = cfg.PollInterval()
			}
			if viewerBase == "" {
				viewerBase = backend
			}
			return runUpload(cmd.Context(), uploadOptions{
				Path:       args[0],
				Uploader:   client.New(backend),
				Interval:   interval,
				ViewerBase: viewerBase,
				Out:        cmd.OutOrStdout(),
				Err:        cmd.ErrOrStderr(),
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Progress poll interval (default from config)")
	cmd.Flags().StringVar(&viewerBase, "viewer-base", "", "Public base URL for the printed viewer link (default: backend)")
	return cmd
}

// runUpload drives one scan through the upload controller and blocks until
// the job ends. On success the viewer link is the only output on Out.
func runUpload(ctx context.Context, opts uploadOptions) error {
	reporter := newJobReporter(opts.Err)
	alerter := upload.AlertFunc(func(msg string) {
		reporter.Finish()
		fmt.Fprintln(opts.Err, "error:", msg)
	})

	ctrl := upload.NewController(opts.Uploader,
		navigator.Printer{W: opts.Out, Base: opts.ViewerBase},
		upload.WithAlerter(alerter),
		upload.WithPollInterval(opts.Interval),
		upload.WithObserver(reporter.Update),
	)
	defer ctrl.Close()

	if err := ctrl.SelectPath(opts.Path); err != nil {
		if errors.Is(err, upload.ErrInvalidExtension) {
			return errReported
		}
		return err
	}
	if err := ctrl.Submit(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errReported
	}

	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		reporter.Finish()
		return ctx.Err()
	}

	reporter.Finish()
	if ctrl.Job().Status != models.JobStatusSucceeded {
		return errReported
	}
	return nil
}
