package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/askdocs/internal/models"
	"github.com/xhad/askdocs/internal/types"
	"github.com/xhad/askdocs/pkg/processor"
	"github.com/xhad/askdocs/pkg/store"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusCleared = "cleared"

	previewChars = 200
)

type UploadRequest struct {
	TenantID string `validate:"omitempty,tenant"`
	Filename string `validate:"required,max=255"`
	Data     []byte `validate:"required"`
}

type UploadResult struct {
	Status        string `json:"status"`
	DocumentName  string `json:"document_name"`
	ChunksCreated int    `json:"chunks_created"`
	TenantID      string `json:"tenant_id,omitempty"`
	DocumentID    string `json:"document_id"`
	TextPreview   string `json:"text_preview"`
}

type File struct {
	Filename string
	Data     []byte
}

type FileResult struct {
	Filename      string `json:"filename"`
	Status        string `json:"status"`
	ChunksCreated int    `json:"chunks_created,omitempty"`
	DocumentID    string `json:"document_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

type BatchResult struct {
	TenantID          string       `json:"tenant_id,omitempty"`
	TotalFiles        int          `json:"total_files"`
	SuccessfulUploads int          `json:"successful_uploads"`
	FailedUploads     int          `json:"failed_uploads"`
	Results           []FileResult `json:"results"`
}

type DeleteResult struct {
	Status        string `json:"status"`
	DocumentName  string `json:"document_name"`
	DeletedChunks int    `json:"deleted_chunks"`
}

type ClearResult struct {
	Status   string `json:"status"`
	TenantID string `json:"tenant_id,omitempty"`
}

type AnswerRequest struct {
	Question string `validate:"required,max=4000"`
	TenantID string `validate:"omitempty,tenant"`
	Scope    string `validate:"omitempty,oneof=default tenant combined"`
}

type AnswerResponse struct {
	AnswerText      string            `json:"answer_text"`
	ExpandedQueries []string          `json:"expanded_queries"`
	CitedChunks     []models.Citation `json:"cited_chunks"`
	ScopeUsed       string            `json:"scope_used"`
	Degraded        bool              `json:"degraded"`
}

type ServiceConfig struct {
	IngestTimeout time.Duration
	Workers       int
	Retrieval     EngineConfig
}

// Service is the entry point used by the CLI: document management and
// question answering over per-tenant stores.
type Service struct {
	config     ServiceConfig
	processor  *processor.Processor
	embeddings types.EmbeddingGateway
	store      types.VectorStore
	engine     *Engine
	validate   *validator.Validate
	metrics    *Metrics
	logger     arbor.ILogger
}

func NewService(config ServiceConfig, proc *processor.Processor, embeddings types.EmbeddingGateway,
	expander types.QueryExpander, vs types.VectorStore, backend types.AnswerBackend,
	metrics *Metrics, logger arbor.ILogger) *Service {
	if config.IngestTimeout <= 0 {
		config.IngestTimeout = 5 * time.Minute
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}

	validate := validator.New()
	validate.RegisterValidation("tenant", func(fl validator.FieldLevel) bool {
		return store.ValidateTenant(fl.Field().String()) == nil
	})

	return &Service{
		config:     config,
		processor:  proc,
		embeddings: embeddings,
		store:      vs,
		engine:     NewEngine(config.Retrieval, embeddings, expander, vs, backend, metrics, logger),
		validate:   validate,
		metrics:    metrics,
		logger:     logger,
	}
}

// NewServiceFromCapabilities builds a service from a capability registry.
func NewServiceFromCapabilities(config ServiceConfig, caps *Capabilities, metrics *Metrics, logger arbor.ILogger) *Service {
	return NewService(config, caps.Processor, caps.Embeddings, caps.Expander, caps.Store, caps.Answer, metrics, logger)
}

func (s *Service) check(req interface{}) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag())
			}
			return models.Validation(models.ErrInvalidRequest, nil, "invalid request: %s", strings.Join(fields, ", "))
		}
		return models.Validation(models.ErrInvalidRequest, err, "invalid request")
	}
	return nil
}

// IngestTask is a running upload. Cancelling it, or its deadline passing,
// leaves the store untouched.
type IngestTask struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	result UploadResult
	err    error
}

func (t *IngestTask) Done() <-chan struct{} {
	return t.done
}

func (t *IngestTask) Cancel() {
	t.cancel()
}

// Wait blocks until the task finishes and returns its outcome.
func (t *IngestTask) Wait() (UploadResult, error) {
	<-t.done
	return t.result, t.err
}

func (t *IngestTask) finish(result UploadResult, err error) {
	t.once.Do(func() {
		t.result, t.err = result, err
		t.cancel()
		close(t.done)
	})
}

// StartUpload validates the request and ingests it in the background,
// bounded by the ingest timeout.
func (s *Service) StartUpload(ctx context.Context, req UploadRequest) (*IngestTask, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	taskCtx, cancel := context.WithTimeout(ctx, s.config.IngestTimeout)
	task := &IngestTask{
		ID:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		result, err := s.ingest(taskCtx, req)
		if err != nil {
			s.metrics.ingestFailed(err)
			s.logger.Warn().Err(err).Str("task", task.ID).Str("file", req.Filename).Msg("Upload failed")
		}
		task.finish(result, err)
	}()
	return task, nil
}

// Upload ingests one document and waits for the result.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	task, err := s.StartUpload(ctx, req)
	if err != nil {
		return UploadResult{}, err
	}
	return task.Wait()
}

func (s *Service) ingest(ctx context.Context, req UploadRequest) (UploadResult, error) {
	doc, chunks, err := s.processor.Process(ctx, processor.Upload{
		TenantID: req.TenantID,
		Filename: req.Filename,
		Data:     req.Data,
	})
	if err != nil {
		return UploadResult{}, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embeddings.EmbedBatch(ctx, texts)
	if err != nil {
		return UploadResult{}, err
	}

	records := make([]models.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = models.NewVectorRecord(doc, c, vectors[i])
	}

	if err := ctx.Err(); err != nil {
		return UploadResult{}, models.Storage(err, "upload of %q abandoned before writing", req.Filename)
	}
	if err := s.store.Upsert(ctx, req.TenantID, records); err != nil {
		return UploadResult{}, err
	}
	s.metrics.ingested(len(records))

	s.logger.Info().
		Str("tenant", req.TenantID).
		Str("file", req.Filename).
		Int("chunks", len(records)).
		Msg("Document ingested")

	return UploadResult{
		Status:        StatusSuccess,
		DocumentName:  req.Filename,
		ChunksCreated: len(records),
		TenantID:      req.TenantID,
		DocumentID:    doc.ID,
		TextPreview:   processor.Preview(doc.Content, previewChars),
	}, nil
}

// UploadBatch ingests files concurrently. One file failing does not stop the
// others; each gets its own status.
func (s *Service) UploadBatch(ctx context.Context, tenantID string, files []File) (BatchResult, error) {
	if err := store.ValidateTenant(tenantID); err != nil {
		return BatchResult{}, err
	}
	if len(files) == 0 {
		return BatchResult{}, models.Validation(models.ErrInvalidRequest, nil, "no files to upload")
	}

	results := make([]FileResult, len(files))
	var g errgroup.Group
	g.SetLimit(s.config.Workers)
	for i, f := range files {
		g.Go(func() error {
			res, err := s.Upload(ctx, UploadRequest{TenantID: tenantID, Filename: f.Filename, Data: f.Data})
			if err != nil {
				results[i] = FileResult{Filename: f.Filename, Status: StatusError, Error: err.Error()}
				return nil
			}
			results[i] = FileResult{
				Filename:      f.Filename,
				Status:        StatusSuccess,
				ChunksCreated: res.ChunksCreated,
				DocumentID:    res.DocumentID,
			}
			return nil
		})
	}
	g.Wait()

	batch := BatchResult{TenantID: tenantID, TotalFiles: len(files), Results: results}
	for _, r := range results {
		if r.Status == StatusSuccess {
			batch.SuccessfulUploads++
		} else {
			batch.FailedUploads++
		}
	}

	s.logger.Info().
		Str("tenant", tenantID).
		Int("files", batch.TotalFiles).
		Int("failed", batch.FailedUploads).
		Msg("Batch upload finished")
	return batch, nil
}

func (s *Service) ListDocuments(ctx context.Context, tenantID string) ([]models.DocumentSummary, error) {
	s.metrics.storeOp("list")
	return s.store.ListDocuments(ctx, tenantID)
}

func (s *Service) DeleteDocument(ctx context.Context, tenantID, name string) (DeleteResult, error) {
	if strings.TrimSpace(name) == "" {
		return DeleteResult{}, models.Validation(models.ErrInvalidRequest, nil, "document name is required")
	}
	s.metrics.storeOp("delete")

	n, err := s.store.DeleteDocument(ctx, tenantID, name)
	if err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Status: StatusSuccess, DocumentName: name, DeletedChunks: n}, nil
}

func (s *Service) Clear(ctx context.Context, tenantID string) (ClearResult, error) {
	s.metrics.storeOp("clear")
	if err := s.store.Clear(ctx, tenantID); err != nil {
		return ClearResult{}, err
	}
	return ClearResult{Status: StatusCleared, TenantID: tenantID}, nil
}

func (s *Service) StoreInfo(ctx context.Context, tenantID string) (models.StoreInfo, error) {
	s.metrics.storeOp("info")
	return s.store.Info(ctx, tenantID)
}

// GenerateAnswer answers a question. Without an explicit scope a tenant id
// selects that tenant's store and no tenant id selects the default store.
func (s *Service) GenerateAnswer(ctx context.Context, req AnswerRequest) (AnswerResponse, error) {
	if err := s.check(req); err != nil {
		return AnswerResponse{}, err
	}

	kind := req.Scope
	if kind == "" && req.TenantID != "" {
		kind = string(models.ScopeTenant)
	}
	scope, err := models.ParseScope(kind, req.TenantID)
	if err != nil {
		return AnswerResponse{}, err
	}

	ans, err := s.engine.Answer(ctx, req.Question, scope)
	if err != nil {
		return AnswerResponse{}, err
	}

	queries := make([]string, len(ans.Variants))
	for i, v := range ans.Variants {
		queries[i] = v.Text
	}
	return AnswerResponse{
		AnswerText:      ans.Text,
		ExpandedQueries: queries,
		CitedChunks:     ans.Citations,
		ScopeUsed:       ans.Scope.String(),
		Degraded:        ans.Degraded,
	}, nil
}
