package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xhad/askdocs/internal/models"
	"github.com/xhad/askdocs/pkg/rag"
	"github.com/xhad/askdocs/pkg/scraper"
)

func ingestCMD(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file|dir>...",
		Short: "Ingest pdf, docx, txt and markdown files",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			paths, err := collectFiles(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return models.Validation(models.ErrInvalidRequest, nil, "no supported files found")
			}

			bar := getProgressBar(len(paths), "Reading files")
			files := make([]rag.File, 0, len(paths))
			for _, p := range paths {
				data, err := os.ReadFile(p)
				if err != nil {
					bar.Finish()
					return fmt.Errorf("failed to read %s: %w", p, err)
				}
				files = append(files, rag.File{Filename: filepath.Base(p), Data: data})
				bar.Add(1)
			}
			bar.Finish()
			fmt.Println()

			spinner := getSpinner(" Embedding and storing...")
			batch, err := a.service.UploadBatch(cmd.Context(), opts.tenant, files)
			spinner.Finish()
			fmt.Print("\r")
			if err != nil {
				return err
			}
			printBatch(batch)
			if batch.SuccessfulUploads == 0 {
				return errors.New("no files were ingested")
			}
			return nil
		}),
	}
}

// collectFiles expands directories into the supported files they contain.
func collectFiles(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := models.MediaTypeFromFilename(p); ok {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func fetchCMD(opts *options) *cobra.Command {
	var maxDepth int
	fetch := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download documents linked from a web page and ingest them",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			if maxDepth == 0 {
				maxDepth = a.config.Scraper.MaxDepth
			}

			var requests int32
			s, err := scraper.NewWithConfig(scraper.ScraperConfig{
				BaseURL:        args[0],
				MaxDepth:       maxDepth,
				RateLimit:      a.config.Scraper.RateLimit,
				IgnorePatterns: a.config.Scraper.IgnorePatterns,
				MaxFileSize:    a.config.Processor.MaxFileSize,
				Timeout:        a.config.Scraper.Timeout,
				OnProgress: func(url string) {
					atomic.AddInt32(&requests, 1)
				},
			}, a.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize scraper: %w", err)
			}

			color.Blue("\nHarvesting documents from %s\n", args[0])
			spinner := getSpinner(" Crawling...")
			stop := make(chan struct{})
			go func() {
				startTime := time.Now()
				for {
					select {
					case <-stop:
						return
					case <-time.After(100 * time.Millisecond):
						count := atomic.LoadInt32(&requests)
						rate := float64(count) / time.Since(startTime).Seconds()
						spinner.Describe(color.CyanString(" Crawling... %d requests (%.1f/sec)", count, rate))
					}
				}
			}()

			artifacts, err := s.Harvest(cmd.Context(), args[0])
			close(stop)
			spinner.Finish()
			fmt.Print("\r")
			if err != nil && len(artifacts) == 0 {
				return fmt.Errorf("failed to harvest %s: %w", args[0], err)
			}
			if err != nil {
				color.Yellow("Harvest stopped early: %v\n", err)
			}
			if len(artifacts) == 0 {
				color.Yellow("No supported documents linked from %s\n", args[0])
				return nil
			}
			color.Green("✓ Downloaded %d documents\n", len(artifacts))

			files := make([]rag.File, len(artifacts))
			for i, art := range artifacts {
				files[i] = rag.File{Filename: art.Filename, Data: art.Data}
			}
			batch, err := a.service.UploadBatch(cmd.Context(), opts.tenant, files)
			if err != nil {
				return err
			}
			printBatch(batch)
			return nil
		}),
	}
	fetch.Flags().IntVar(&maxDepth, "max-depth", 0, "link depth to follow (default from config)")
	return fetch
}

func askCMD(opts *options) *cobra.Command {
	var scope string
	var verbose bool
	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			spinner := getSpinner(" Thinking...")
			resp, err := a.service.GenerateAnswer(cmd.Context(), rag.AnswerRequest{
				Question: strings.Join(args, " "),
				TenantID: opts.tenant,
				Scope:    scope,
			})
			spinner.Finish()
			fmt.Print("\r")
			if err != nil {
				return err
			}
			printAnswer(resp, verbose)
			return nil
		}),
	}
	ask.Flags().StringVar(&scope, "scope", "", "default, tenant or combined (default: tenant when --tenant is set)")
	ask.Flags().BoolVarP(&verbose, "verbose", "v", false, "show the expanded queries")
	return ask
}

func chatCMD(opts *options) *cobra.Command {
	var scope string
	chat := &cobra.Command{
		Use:   "chat",
		Short: "Interactive question answering",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			if a.config.Metrics.Enabled {
				srv := serveMetrics(a)
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					srv.Shutdown(ctx)
				}()
			}

			color.Cyan("\nChat with your documents in the %s (type 'exit' to quit)", storeLabel(opts.tenant))

			scanner := bufio.NewScanner(os.Stdin)
			userPrompt := color.New(color.FgGreen).PrintfFunc()

			for {
				userPrompt("\nYou: ")
				if !scanner.Scan() {
					break
				}

				query := strings.TrimSpace(scanner.Text())
				if query == "" {
					continue
				}
				if strings.ToLower(query) == "exit" {
					break
				}

				spinner := getSpinner(" Thinking...")
				resp, err := a.service.GenerateAnswer(cmd.Context(), rag.AnswerRequest{
					Question: query,
					TenantID: opts.tenant,
					Scope:    scope,
				})
				spinner.Finish()
				fmt.Print("\r")
				if err != nil {
					printError(err)
					continue
				}
				printAnswer(resp, false)
			}
			return scanner.Err()
		}),
	}
	chat.Flags().StringVar(&scope, "scope", "", "default, tenant or combined (default: tenant when --tenant is set)")
	return chat
}

func serveMetrics(a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              a.config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error().Err(err).Str("addr", a.config.Metrics.Addr).Msg("Metrics server stopped")
		}
	}()
	a.logger.Info().Str("addr", a.config.Metrics.Addr).Msg("Serving metrics")
	return server
}

func docsCMD(opts *options) *cobra.Command {
	docs := &cobra.Command{
		Use:   "docs",
		Short: "Manage ingested documents",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List documents in a store",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			list, err := a.service.ListDocuments(cmd.Context(), opts.tenant)
			if err != nil {
				return err
			}
			printDocuments(opts.tenant, list)
			return nil
		}),
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete every chunk of a document",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			res, err := a.service.DeleteDocument(cmd.Context(), opts.tenant, args[0])
			if err != nil {
				return err
			}
			color.Green("✓ Deleted %s (%d chunks)\n", res.DocumentName, res.DeletedChunks)
			return nil
		}),
	}

	var force bool
	clear := &cobra.Command{
		Use:   "clear",
		Short: "Delete a store and everything in it",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			if !force {
				color.Yellow("This deletes every document in the %s. Continue? [y/N] ", storeLabel(opts.tenant))
				reply, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				if !strings.EqualFold(strings.TrimSpace(reply), "y") {
					return nil
				}
			}
			if _, err := a.service.Clear(cmd.Context(), opts.tenant); err != nil {
				return err
			}
			color.Green("✓ Cleared the %s\n", storeLabel(opts.tenant))
			return nil
		}),
	}
	clear.Flags().BoolVarP(&force, "yes", "y", false, "skip the confirmation prompt")

	info := &cobra.Command{
		Use:   "info",
		Short: "Show store statistics",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			info, err := a.service.StoreInfo(cmd.Context(), opts.tenant)
			if err != nil {
				return err
			}
			color.Blue("Store: %s (%s)\n", storeLabel(opts.tenant), info.Status)
			fmt.Printf("  documents: %d\n  chunks:    %d\n", info.TotalDocuments, info.TotalChunks)
			return nil
		}),
	}

	docs.AddCommand(list, del, clear, info)
	return docs
}
