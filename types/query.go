package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

type AskParams struct {
	Query           string `json:"query" validate:"required,max=2000"`
	SessionID       string `json:"session_id"`
	MaxContextItems int    `json:"max_context_items" validate:"omitempty,gte=1,lte=10"`
}

type AskResponse struct {
	Answer         string   `json:"answer"`
	SessionID      string   `json:"session_id"`
	SourcesCount   int      `json:"sources_count"`
	ProcessingTime float64  `json:"processing_time"`
	Metadata       Metadata `json:"metadata"`
}

type UploadResponse struct {
	Message        string `json:"message"`
	Filename       string `json:"filename"`
	PagesProcessed int    `json:"pages_processed"`
	ChunksCreated  int    `json:"chunks_created"`
	Status         string `json:"status"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp"`
	VectorStoreSize int    `json:"vector_store_size"`
	ActiveSessions  int    `json:"active_sessions"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *AskParams) Validate() map[string]string {
	validate := validator.New()
	if err := validate.Struct(params); err != nil {
		errs := err.(validator.ValidationErrors)
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}
