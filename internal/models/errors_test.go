package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     ErrorKind
		sentinel error
	}{
		{"validation", Validation(ErrUnsupportedMediaType, nil, "unsupported file %q", "a.exe"), KindValidation, ErrUnsupportedMediaType},
		{"not found", NotFound(ErrStoreNotFound, "no documents ingested yet"), KindNotFound, ErrStoreNotFound},
		{"provider", Provider(ErrEmbeddingUnavailable, errors.New("dial tcp"), "embedding"), KindProvider, ErrEmbeddingUnavailable},
		{"storage", Storage(errors.New("disk full"), "upsert"), KindStorage, ErrStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindOf(tt.err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, kind)
			assert.ErrorIs(t, tt.err, tt.sentinel)
		})
	}
}

func TestErrorKeepsCause(t *testing.T) {
	err := Provider(ErrEmbeddingUnavailable, context.DeadlineExceeded, "embed batch")
	wrapped := fmt.Errorf("answer: %w", err)

	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.ErrorIs(t, wrapped, ErrEmbeddingUnavailable)
	assert.Equal(t, "provider: embed batch: context deadline exceeded", err.Error())

	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultScope(), s)

	s, err = ParseScope("combined", "acme")
	require.NoError(t, err)
	assert.Equal(t, CombinedScope("acme"), s)
	assert.Equal(t, "combined(acme)", s.String())

	_, err = ParseScope("tenant", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = ParseScope("everything", "acme")
	kind, _ := KindOf(err)
	assert.Equal(t, KindValidation, kind)
}

func TestMediaTypeFromFilename(t *testing.T) {
	tests := map[string]MediaType{
		"report.PDF": MediaPDF,
		"notes.docx": MediaDOCX,
		"readme.md":  MediaMarkdown,
		"a.markdown": MediaMarkdown,
		"plain.txt":  MediaText,
	}
	for name, want := range tests {
		got, ok := MediaTypeFromFilename(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := MediaTypeFromFilename("image.png")
	assert.False(t, ok)
}
