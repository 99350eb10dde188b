package api

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rag/loader"
	"rag/store"
	"rag/types"

	"github.com/gofiber/fiber/v2"
)

type FileHandler struct {
	contextStore store.VectorStorer
	maxFileSize  int
	logger       *slog.Logger
}

func NewFileHandler(contextStore store.VectorStorer, maxFileSizeMB int) *FileHandler {
	return &FileHandler{
		contextStore: contextStore,
		maxFileSize:  maxFileSizeMB,
		logger:       slog.Default(),
	}
}

// HandleUpload accepts a PDF, extracts its text and indexes it into the
// vector store.
func (h *FileHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".pdf") {
		return ErrUnprocessable("only PDF files are supported")
	}

	sizeMB := float64(fileHeader.Size) / (1024 * 1024)
	if sizeMB > float64(h.maxFileSize) {
		return ErrFileTooLarge(h.maxFileSize)
	}

	tmpDir, err := os.MkdirTemp("", "rag-upload-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, filepath.Base(fileHeader.Filename))
	if err := c.SaveFile(fileHeader, path); err != nil {
		return err
	}

	h.logger.Info("processing file", "filename", fileHeader.Filename)
	text, pages, err := loader.ExtractText(path)
	if err != nil {
		return ErrUnprocessable("no text could be extracted from the PDF: " + err.Error())
	}

	metadata := types.Metadata{
		"filename":    fileHeader.Filename,
		"upload_time": time.Now().UTC().Format(time.RFC3339),
		"pages":       pages,
		"size_mb":     sizeMB,
	}

	chunks, err := h.contextStore.Index(c.Context(), text, metadata)
	if err != nil {
		if errors.Is(err, store.ErrEmptyDocument) {
			return ErrUnprocessable(err.Error())
		}
		return err
	}

	h.logger.Info("file processed", "filename", fileHeader.Filename, "pages", pages, "chunks", chunks)

	return c.Status(fiber.StatusCreated).JSON(types.UploadResponse{
		Message:        "file successfully processed and added to knowledge base",
		Filename:       fileHeader.Filename,
		PagesProcessed: pages,
		ChunksCreated:  chunks,
		Status:         "success",
	})
}
