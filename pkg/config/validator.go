package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// LLM
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "Ollama base URL is required",
			})
		} else if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid Ollama base URL",
			})
		}
	case "gemini":
		if c.LLM.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.api_key",
				Message: "api_key is required for the gemini provider",
			})
		}
	case "none":
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q", c.LLM.Provider),
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.TopP < 0 || c.LLM.TopP > 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.top_p",
			Message: "top_p must be between 0 and 1",
		})
	}

	// Embedding
	switch c.Embedding.Provider {
	case "ollama", "hashing":
	case "gemini":
		if c.Embedding.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "embedding.api_key",
				Message: "api_key is required for the gemini provider",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("unknown provider %q", c.Embedding.Provider),
		})
	}

	if c.Embedding.Dimensions < 0 {
		errors = append(errors, ValidationError{
			Field:   "embedding.dimensions",
			Message: "dimensions must not be negative",
		})
	}

	if c.Embedding.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Storage
	switch c.Storage.Backend {
	case "badger":
		if c.Storage.Root == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.root",
				Message: "storage root is required",
			})
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.database_url",
				Message: "database_url is required for the postgres backend",
			})
		} else if _, err := url.Parse(c.Storage.DatabaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "storage.database_url",
				Message: "invalid database URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("unknown backend %q", c.Storage.Backend),
		})
	}

	// Processor
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if o := c.Processor.ChunkOverlap; o == nil || *o < 0 || *o >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	// Retrieval
	if c.Retrieval.Expansions < 0 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.expansions",
			Message: "expansions must not be negative",
		})
	}

	if c.Retrieval.TopK < 1 || c.Retrieval.MaxChunks < 1 || c.Retrieval.ContextChars < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval",
			Message: "top_k, max_chunks and context_chars must be positive",
		})
	}

	if c.Ingest.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.workers",
			Message: "workers must be positive",
		})
	}

	return errors
}
