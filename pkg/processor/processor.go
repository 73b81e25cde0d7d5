package processor

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/xhad/askdocs/internal/models"
)

// documentNamespace seeds name-based document ids.
var documentNamespace = uuid.MustParse("6f1c2a9e-3b57-4d0c-9a4e-0d8f5b7c2e11")

type ProcessorConfig struct {
	ChunkSize int
	// ChunkOverlap is used as given; 0 means adjacent chunks share nothing.
	ChunkOverlap int
	MaxFileSize  int64
	Separators   []string
}

type Processor struct {
	config     ProcessorConfig
	separators []string
	logger     arbor.ILogger
}

// Upload is a raw artifact handed to the pipeline.
type Upload struct {
	TenantID string
	Filename string
	Data     []byte
}

func NewWithConfig(config ProcessorConfig, logger arbor.ILogger) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap must be non-negative and less than chunk size")
	}
	separators := config.Separators
	if len(separators) == 0 {
		separators = defaultSeparators
	}
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}

	return &Processor{
		config:     config,
		separators: separators,
		logger:     logger,
	}, nil
}

// DocumentID is stable for a tenant and filename, so a re-upload replaces the
// previous chunks instead of duplicating them.
func DocumentID(tenantID, filename string) string {
	return uuid.NewSHA1(documentNamespace, []byte(tenantID+"/"+filename)).String()
}

// Process extracts and chunks one upload.
func (p *Processor) Process(ctx context.Context, up Upload) (models.Document, []models.Chunk, error) {
	if strings.TrimSpace(up.Filename) == "" {
		return models.Document{}, nil, models.Validation(models.ErrInvalidRequest, nil, "filename is required")
	}
	mediaType, ok := models.MediaTypeFromFilename(up.Filename)
	if !ok {
		return models.Document{}, nil, models.Validation(models.ErrUnsupportedMediaType, nil,
			"unsupported file type for %q: supported types are pdf, docx, txt and markdown", up.Filename)
	}
	if p.config.MaxFileSize > 0 && int64(len(up.Data)) > p.config.MaxFileSize {
		return models.Document{}, nil, models.Validation(models.ErrInvalidRequest, nil,
			"%q is %d bytes, limit is %d", up.Filename, len(up.Data), p.config.MaxFileSize)
	}

	text, err := p.Extract(ctx, up.Data, mediaType)
	if err != nil {
		return models.Document{}, nil, err
	}

	doc := models.Document{
		ID:        DocumentID(up.TenantID, up.Filename),
		TenantID:  up.TenantID,
		Filename:  up.Filename,
		MediaType: mediaType,
		Size:      int64(len(up.Data)),
		Content:   text,
	}
	chunks := p.Chunk(text, doc.ID)

	p.logger.Debug().
		Str("file", up.Filename).
		Str("type", string(mediaType)).
		Int("chars", utf8.RuneCountInString(text)).
		Int("chunks", len(chunks)).
		Msg("Document processed")

	return doc, chunks, nil
}

// Preview returns the first n characters of text followed by an ellipsis.
func Preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
