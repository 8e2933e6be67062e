package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"paperbase/internal/service"
	"paperbase/internal/storage"
)

// contentURLExpiry bounds presigned download links.
const contentURLExpiry = 15 * time.Minute

// Pinger reports whether a dependency is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app. db may be nil when the
// service runs without a database.
func RegisterRoutes(app *fiber.App, db Pinger, docSvc service.DocumentService) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	app.Get("/documents", ListDocuments(docSvc))
	app.Post("/documents/batch", UploadBatch(docSvc))
	app.Get("/documents/:id", GetDocument(docSvc))
	app.Get("/documents/:id/content", DownloadContent(docSvc))
	app.Post("/documents/:id/reorganize", ReorganizeDocument(docSvc))
	app.Delete("/documents/:id", DeleteDocument(docSvc))

	app.Post("/admin/backfill", RunBackfill(docSvc))
}

// HealthCheck checks database connectivity.
func HealthCheck(db Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
			}
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is a dependency-free liveness check.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// ListDocuments lists documents with limit & offset.
func ListDocuments(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := docSvc.List(c.UserContext(), limit, offset)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}

// UploadBatch accepts multipart/form-data with one or more "files" parts and optional
// "template" and "category" values. Per-file failures are reported in the summary items.
func UploadBatch(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		form, err := c.MultipartForm()
		if err != nil || len(form.File["files"]) == 0 {
			return writeError(c, fiber.StatusBadRequest, "FILES_REQUIRED", "at least one file is required")
		}

		headers := form.File["files"]
		files := make([]service.UploadFile, 0, len(headers))
		for _, fh := range headers {
			files = append(files, uploadFile(fh))
		}
		opts := service.BatchOptions{
			Template: firstValue(form, "template"),
			Category: firstValue(form, "category"),
		}

		summary, err := docSvc.UploadBatch(c.UserContext(), files, opts)
		if err != nil {
			if errors.Is(err, service.ErrNoFiles) {
				return writeError(c, fiber.StatusBadRequest, "FILES_REQUIRED", "at least one file is required")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.Status(fiber.StatusCreated).JSON(summary)
	}
}

func uploadFile(fh *multipart.FileHeader) service.UploadFile {
	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return service.UploadFile{
		Filename:    fh.Filename,
		ContentType: ct,
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func firstValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// GetDocument returns a document with its effective path, parse artifacts and fields.
func GetDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		doc, err := docSvc.Get(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(doc)
	}
}

// DownloadContent streams the bytes at a document's effective path. With ?redirect=true it
// answers with a presigned URL instead when the storage backend can issue one.
func DownloadContent(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		if c.QueryBool("redirect") {
			u, err := docSvc.ContentURL(c.UserContext(), id, contentURLExpiry)
			if err == nil {
				return c.Redirect(u, fiber.StatusTemporaryRedirect)
			}
			if !errors.Is(err, storage.ErrNotSupported) {
				return contentError(c, err)
			}
		}

		content, err := docSvc.OpenContent(c.UserContext(), id)
		if err != nil {
			return contentError(c, err)
		}
		if content.Filename != "" {
			c.Attachment(content.Filename)
		} else {
			c.Attachment()
		}
		c.Set(fiber.HeaderContentType, content.ContentType)
		return c.SendStream(content.Body, int(content.Size))
	}
}

func contentError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
	case errors.Is(err, service.ErrNoContent):
		return writeError(c, fiber.StatusNotFound, "NO_CONTENT", "document has no stored content")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

type reorganizeRequest struct {
	Category string `json:"category"`
}

// ReorganizeDocument files a document under a category.
func ReorganizeDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		var req reorganizeRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}

		out, err := docSvc.Reorganize(c.UserContext(), id, req.Category)
		if err != nil {
			var ioErr *service.ReorganizationIOError
			switch {
			case errors.Is(err, service.ErrCategoryRequired), errors.Is(err, service.ErrInvalidCategory):
				return writeError(c, fiber.StatusBadRequest, "INVALID_CATEGORY", err.Error())
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
			case errors.Is(err, service.ErrDocumentNotLinked):
				return writeError(c, fiber.StatusConflict, "NOT_LINKED", "document has not been migrated yet")
			case errors.Is(err, service.ErrParsePending):
				return writeError(c, fiber.StatusConflict, "PARSE_PENDING", "document is still being parsed")
			case errors.Is(err, service.ErrReorganizeConflict):
				return writeError(c, fiber.StatusConflict, "REORGANIZE_CONFLICT", "document was reorganized by another request, retry")
			case errors.As(err, &ioErr):
				return writeError(c, fiber.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "storage operation failed, retry later")
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		return c.JSON(out)
	}
}

// DeleteDocument removes a document record.
func DeleteDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := docSvc.Delete(c.UserContext(), id); err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// RunBackfill runs the legacy backfill synchronously and returns its report.
func RunBackfill(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		report, err := docSvc.Backfill(c.UserContext())
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "backfill did not complete")
		}
		return c.JSON(report)
	}
}
