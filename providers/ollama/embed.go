package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"paper-graph/apperr"
	"paper-graph/config"

	"go.uber.org/zap"
)

const (
	apiPathEmbeddings = "/api/embeddings"
	apiPathTags       = "/api/tags"
)

// Client erzeugt Embeddings über die Ollama-API.
type Client struct {
	Logger *zap.Logger

	baseURL    string
	model      string
	httpClient *http.Client
}

func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		Logger:     logger,
		baseURL:    strings.TrimRight(cfg.OllamaHost, "/"),
		model:      cfg.OllamaEmbeddingModel,
		httpClient: &http.Client{Timeout: cfg.OllamaAPITimeout},
	}
}

func (c *Client) Model() string {
	return c.model
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Embed fordert einen Vektor für text an. Jeder Fehler ist als Unavailable markiert und wiederholbar.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, apperr.Internal(err, "marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPathEmbeddings, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Internal(err, "build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Unavailable(err, "embedding service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.Unavailable(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			"embedding request failed")
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperr.Unavailable(err, "decode embedding response")
	}
	if len(result.Embedding) == 0 {
		return nil, apperr.Unavailable(errors.New("empty vector"), "embedding response for model %s", c.model)
	}
	return result.Embedding, nil
}

// HasModel prüft, ob das konfigurierte Modell in Ollama installiert ist.
func (c *Client) HasModel(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPathTags, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, apperr.Unavailable(err, "ollama unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, apperr.Unavailable(fmt.Errorf("status %d", resp.StatusCode), "list ollama models")
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, apperr.Unavailable(err, "decode ollama tags")
	}
	for _, m := range tags.Models {
		// Ollama hängt ":latest" an, wenn kein Tag angegeben wurde
		if m.Name == c.model || m.Name == c.model+":latest" {
			return true, nil
		}
	}
	return false, nil
}
