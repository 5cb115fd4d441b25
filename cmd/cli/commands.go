package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	infraBQ "github.com/dvloznov/splitledger/internal/infra/bigquery"
	"github.com/dvloznov/splitledger/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func uploadCmd() *cobra.Command {
	var (
		userID  string
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "upload <file.csv>",
		Short: "Upload a CSV command file and start processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			client := newAPIClient(cfg.HTTP.BaseURL)
			upload, err := client.InitiateUpload(ctx, filepath.Base(path), userID)
			if err != nil {
				return err
			}
			if err := client.PutFile(ctx, upload.PresignedURL, f, info.Size()); err != nil {
				return err
			}
			if err := client.ConfirmUpload(ctx, upload.JobID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued (%s)\n", upload.JobID, upload.StorageKey)

			if !wait {
				return nil
			}
			view, err := waitForJob(ctx, client, upload.JobID)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "ID of the user uploading the file (required)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the job to finish and print its results")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall timeout")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// waitForJob polls the job until it reaches a terminal status.
func waitForJob(ctx context.Context, client *apiClient, jobID string) (*pipeline.StatusView, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		view, err := client.JobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if view.Job.Status.IsTerminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <jobId>",
		Short: "Show a job and its row results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			view, err := newAPIClient(cfg.HTTP.BaseURL).JobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), view)
			}
			return printStatus(cmd.OutOrStdout(), view)
		},
	}
}

func jobsCmd() *cobra.Command {
	var (
		userID        string
		status        string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List a user's jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			list, err := newAPIClient(cfg.HTTP.BaseURL).ListJobs(cmd.Context(), userID, status, limit, offset)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), list)
			}
			printJobs(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user ID (required)")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func historyCmd() *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show finished job runs recorded in BigQuery",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.BigQuery.Enabled {
				return errors.New("run history requires bigquery.enabled")
			}

			recorder, err := infraBQ.NewRunRecorder(cmd.Context(), cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset, cfg.BigQuery.Table)
			if err != nil {
				return err
			}
			defer recorder.Close()

			runs, err := recorder.ListRuns(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "only runs of this owner")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
