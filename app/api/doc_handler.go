package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mercurial/extract"
	"mercurial/rag"
	"mercurial/store"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type DocHandler struct {
	engine    *rag.Engine
	store     store.DBStorer
	uploadDir string
}

func NewDocHandler(engine *rag.Engine, s store.DBStorer, uploadDir string) *DocHandler {
	return &DocHandler{
		engine:    engine,
		store:     s,
		uploadDir: uploadDir,
	}
}

func (h *DocHandler) HandleList(c *fiber.Ctx) error {
	docs, err := h.store.ListDocuments(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"documents":    docs,
		"vector_count": h.engine.VectorCount(),
	})
}

// HandleUpload saves the multipart file and runs the full ingest pipeline
// synchronously: the requester is blocked until extraction, embedding and
// index persistence complete.
func (h *DocHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return NewError(fiber.StatusBadRequest, "missing file")
	}
	filename := filepath.Base(fileHeader.Filename)
	if filename == "" || filename == "." {
		return NewError(fiber.StatusBadRequest, "empty filename")
	}
	if !extract.Supported(filename) {
		return ErrUnsupportedFileType(filepath.Ext(filename))
	}

	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		return err
	}

	savePath := filepath.Join(h.uploadDir, filename)
	if _, err := os.Stat(savePath); err == nil {
		ext := filepath.Ext(filename)
		stem := strings.TrimSuffix(filename, ext)
		filename = fmt.Sprintf("%s_%s%s", stem, time.Now().Format("20060102_150405"), ext)
		savePath = filepath.Join(h.uploadDir, filename)
	}

	if err := c.SaveFile(fileHeader, savePath); err != nil {
		return err
	}

	doc, chunks, err := h.engine.IngestFile(c.Context(), filename, savePath)
	if err != nil {
		os.Remove(savePath)
		return err
	}

	return c.JSON(fiber.Map{
		"ok":       true,
		"doc_id":   doc.ID,
		"chunks":   chunks,
		"filename": filename,
	})
}

func (h *DocHandler) HandleDelete(c *fiber.Ctx) error {
	docID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}

	if err := h.engine.DeleteDocument(c.Context(), docID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound(docID, "document")
		}
		return err
	}

	return c.JSON(fiber.Map{
		"ok":           true,
		"vector_count": h.engine.VectorCount(),
	})
}
