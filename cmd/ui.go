package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/askdocs/internal/models"
	"github.com/xhad/askdocs/pkg/rag"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func storeLabel(tenant string) string {
	if tenant == "" {
		return "default store"
	}
	return "tenant " + tenant
}

func printBatch(batch rag.BatchResult) {
	for _, r := range batch.Results {
		if r.Status == rag.StatusSuccess {
			color.Green("  ✓ %s (%d chunks)\n", r.Filename, r.ChunksCreated)
		} else {
			color.Red("  ✗ %s: %s\n", r.Filename, r.Error)
		}
	}
	summary := fmt.Sprintf("%d of %d files ingested into the %s", batch.SuccessfulUploads, batch.TotalFiles, storeLabel(batch.TenantID))
	if batch.FailedUploads > 0 {
		color.Yellow("\n%s, %d failed\n", summary, batch.FailedUploads)
		return
	}
	color.Green("\n✓ %s\n", summary)
}

func printAnswer(resp rag.AnswerResponse, verbose bool) {
	assistant := color.New(color.FgCyan).PrintfFunc()
	assistant("\nAssistant: ")
	fmt.Println(resp.AnswerText)

	if resp.Degraded {
		color.Yellow("\n(fallback answer: no text-generation model was available)\n")
	}
	if len(resp.CitedChunks) > 0 {
		color.Blue("\nSources (%s):\n", resp.ScopeUsed)
		for _, c := range resp.CitedChunks {
			fmt.Printf("  %s  chunk %d  score %.3f\n", c.Source, c.Index, c.Score)
		}
	}
	if verbose && len(resp.ExpandedQueries) > 1 {
		color.Blue("\nSearched with:\n")
		for _, q := range resp.ExpandedQueries {
			fmt.Printf("  - %s\n", q)
		}
	}
}

func printDocuments(tenant string, docs []models.DocumentSummary) {
	if len(docs) == 0 {
		color.Yellow("No documents in the %s\n", storeLabel(tenant))
		return
	}
	color.Blue("Documents in the %s:\n", storeLabel(tenant))
	width := 0
	for _, d := range docs {
		if len(d.Name) > width {
			width = len(d.Name)
		}
	}
	for _, d := range docs {
		fmt.Printf("  %s%s  %d chunks\n", d.Name, strings.Repeat(" ", width-len(d.Name)), d.Chunks)
	}
}
