package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	infraBQ "github.com/dvloznov/splitledger/internal/infra/bigquery"
	"github.com/dvloznov/splitledger/internal/jobs"
	"github.com/dvloznov/splitledger/internal/pipeline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func count(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

func printStatus(w io.Writer, view *pipeline.StatusView) error {
	job := view.Job
	fmt.Fprintf(w, "Job:       %s\n", job.ID)
	fmt.Fprintf(w, "File:      %s\n", job.FileName)
	fmt.Fprintf(w, "Status:    %s\n", job.Status)
	fmt.Fprintf(w, "Rows:      %s total, %s succeeded, %s failed\n",
		count(job.TotalRecords), count(job.SuccessfulRecords), count(job.FailedRecords))
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "Message:   %s\n", job.ErrorMessage)
	}
	if len(view.CommandResults) == 0 {
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Line", "Command", "Status", "Error"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, WidthMax: 80},
	})
	for _, r := range view.CommandResults {
		tw.AppendRow(table.Row{r.LineNumber, r.CommandType, r.Status, r.ErrorMessage})
	}
	tw.Render()
	return nil
}

func printJobs(w io.Writer, list []*jobs.Job) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "File", "Status", "Total", "Succeeded", "Failed", "Created"})
	for _, j := range list {
		tw.AppendRow(table.Row{
			j.ID, j.FileName, j.Status,
			count(j.TotalRecords), count(j.SuccessfulRecords), count(j.FailedRecords),
			j.CreatedAt.Format(time.RFC3339),
		})
	}
	tw.Render()
}

func printRuns(w io.Writer, runs []*infraBQ.JobRunRow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Job", "Owner", "Status", "Total", "Succeeded", "Failed", "Unaccounted", "Duration", "Finished"})
	for _, r := range runs {
		duration := "-"
		if r.DurationMS.Valid {
			duration = (time.Duration(r.DurationMS.Int64) * time.Millisecond).String()
		}
		tw.AppendRow(table.Row{
			r.JobID, r.CreatedBy, r.Status,
			r.Total, r.Succeeded, r.Failed, r.Unaccounted,
			duration, r.FinishedTS.Format(time.RFC3339),
		})
	}
	tw.Render()
}
