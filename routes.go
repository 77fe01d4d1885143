package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"paper-graph/apperr"
	"paper-graph/models"
	"paper-graph/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type paperIngester interface {
	Ingest(ctx context.Context, req services.IngestRequest) (*models.Paper, error)
}

type paperSearcher interface {
	SearchText(ctx context.Context, q services.SearchQuery) ([]models.SearchHit, error)
}

type paperManager interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Paper, error)
	List(ctx context.Context, offset, limit int) ([]models.Paper, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) (*models.Paper, error)
	Delete(ctx context.Context, id uuid.UUID) error
	References(ctx context.Context, id uuid.UUID) ([]models.Reference, error)
	EmbeddingInfo(ctx context.Context, id uuid.UUID) (*models.EmbeddingInfo, error)
	DownloadFile(ctx context.Context, id uuid.UUID, localPath string) (*models.Paper, error)
}

// paperRoutes bündelt die Abhängigkeiten der /papers-Endpunkte.
type paperRoutes struct {
	Ingest         paperIngester
	Search         paperSearcher
	Papers         paperManager
	WorkDir        string
	MaxUploadBytes int64
}

func setupRootRoutes(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "paper-graph is running"})
	})
}

func setupPaperRoutes(router *gin.Engine, deps paperRoutes, log *zap.Logger) {
	rg := router.Group("/papers")

	// Upload einer PDF mit optionalen Fallback-Metadaten
	rg.POST("", func(c *gin.Context) {
		if deps.MaxUploadBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, deps.MaxUploadBytes)
		}
		fh, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
				c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid upload"})
			}
			return
		}

		name := filepath.Base(fh.Filename)
		if fh.Filename == "" || name == "." || name == string(filepath.Separator) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No selected file"})
			return
		}
		if !strings.EqualFold(filepath.Ext(name), ".pdf") {
			if fh.Header.Get("Content-Type") != "application/pdf" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF files are allowed"})
				return
			}
			name += ".pdf"
		}

		dir, err := os.MkdirTemp(deps.WorkDir, "upload-")
		if err != nil {
			respondError(c, log, apperr.Internal(err, "create upload dir"))
			return
		}
		defer os.RemoveAll(dir)

		// Originalname behalten, die Metadaten-Auflösung wertet ihn aus
		path := filepath.Join(dir, name)
		if err := c.SaveUploadedFile(fh, path); err != nil {
			respondError(c, log, apperr.Internal(err, "save upload"))
			return
		}

		paper, err := deps.Ingest.Ingest(c.Request.Context(), services.IngestRequest{
			FilePath: path,
			Title:    c.PostForm("title"),
			Authors:  c.PostForm("authors"),
		})
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"paper_id": paper.ID, "title": paper.Title})
	})

	// Ähnlichkeitssuche mit ?query=, sonst Liste
	rg.GET("", func(c *gin.Context) {
		if query, ok := c.GetQuery("query"); ok {
			q := services.SearchQuery{Text: query}
			var err error
			if q.Limit, err = intQuery(c, "limit", 0); err != nil {
				respondError(c, log, err)
				return
			}
			if raw := c.Query("max_distance"); raw != "" {
				if q.MaxDistance, err = strconv.ParseFloat(raw, 64); err != nil {
					respondError(c, log, apperr.Validation("max_distance must be a number"))
					return
				}
			}
			if raw := c.Query("distinct"); raw != "" {
				if q.Distinct, err = strconv.ParseBool(raw); err != nil {
					respondError(c, log, apperr.Validation("distinct must be a boolean"))
					return
				}
			}
			hits, err := deps.Search.SearchText(c.Request.Context(), q)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, hits)
			return
		}

		offset, err := intQuery(c, "offset", 0)
		if err != nil {
			respondError(c, log, err)
			return
		}
		limit, err := intQuery(c, "limit", 0)
		if err != nil {
			respondError(c, log, err)
			return
		}
		papers, err := deps.Papers.List(c.Request.Context(), offset, limit)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, papers)
	})

	rg.GET("/:id", func(c *gin.Context) {
		id, ok := paperIDParam(c)
		if !ok {
			return
		}
		paper, err := deps.Papers.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, paper)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		id, ok := paperIDParam(c)
		if !ok {
			return
		}
		var fields map[string]any
		if err := c.ShouldBindJSON(&fields); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		paper, err := deps.Papers.Update(c.Request.Context(), id, fields)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, paper)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id, ok := paperIDParam(c)
		if !ok {
			return
		}
		if err := deps.Papers.Delete(c.Request.Context(), id); err != nil {
			respondError(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	rg.GET("/:id/references", func(c *gin.Context) {
		id, ok := paperIDParam(c)
		if !ok {
			return
		}
		refs, err := deps.Papers.References(c.Request.Context(), id)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, refs)
	})

	rg.GET("/:id/embeddings", func(c *gin.Context) {
		id, ok := paperIDParam(c)
		if !ok {
			return
		}
		info, err := deps.Papers.EmbeddingInfo(c.Request.Context(), id)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, info)
	})

	rg.GET("/:id/file", func(c *gin.Context) {
		id, ok := paperIDParam(c)
		if !ok {
			return
		}
		dir, err := os.MkdirTemp(deps.WorkDir, "download-")
		if err != nil {
			respondError(c, log, apperr.Internal(err, "create download dir"))
			return
		}
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, id.String()+".pdf")
		if _, err := deps.Papers.DownloadFile(c.Request.Context(), id, path); err != nil {
			respondError(c, log, err)
			return
		}
		c.FileAttachment(path, id.String()+".pdf")
	})
}

func paperIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid paper id"})
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", key)
	}
	return n, nil
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError bildet den Fehler-Kind auf den Status ab. Interne Details gehen nur ins Log.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	body := gin.H{"error": err.Error()}
	if kind == apperr.KindInternal {
		body["error"] = "internal server error"
	}
	if existing, ok := apperr.ExistingOf(err); ok {
		body["paper_id"] = existing.ID
		body["title"] = existing.Title
		body["authors"] = existing.Authors
	}

	if status >= http.StatusInternalServerError {
		log.Error("Request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, body)
}
