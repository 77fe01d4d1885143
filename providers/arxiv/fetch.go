package arxiv

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"paper-graph/apperr"
	"paper-graph/config"
	"paper-graph/providers"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxFileSize begrenzt jede entpackte Datei auf 100MB.
const maxFileSize = 100 * 1024 * 1024

var (
	entryIDRegex = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)
	versionRegex = regexp.MustCompile(`v\d+$`)
	nonWordRegex = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// Client implementiert providers.Archive für arXiv.
// Alle Requests teilen sich einen Rate-Limiter.
type Client struct {
	Logger *zap.Logger

	apiURL     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
}

// NewClient erstellt einen arXiv-Client aus der Konfiguration.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		Logger:     logger,
		apiURL:     cfg.ArxivAPIURL,
		baseURL:    strings.TrimRight(cfg.ArxivBaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.ArxivTimeout},
		limiter:    rate.NewLimiter(rate.Every(cfg.ArxivRateLimit), 1),
		maxRetries: cfg.ArxivMaxRetries,
		retryDelay: cfg.ArxivRetryDelay,
	}
}

func (c *Client) Name() string {
	return "arxiv"
}

// LookupByID löst eine Kurz-ID (z.B. 2401.00123) über id_list auf.
func (c *Client) LookupByID(ctx context.Context, id string) (*providers.Metadata, error) {
	q := url.Values{}
	q.Set("id_list", NormalizeID(id))
	q.Set("max_results", "1")

	feed, err := c.query(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, entry := range feed.Entries {
		if isErrorEntry(entry) {
			continue
		}
		md := entryToMetadata(entry)
		return &md, nil
	}
	return nil, apperr.NotFound("arxiv paper %s not found", id)
}

// SearchByText sucht per Volltext über alle Felder.
func (c *Client) SearchByText(ctx context.Context, query string, limit int) ([]providers.Metadata, error) {
	terms := strings.Fields(nonWordRegex.ReplaceAllString(query, " "))
	if len(terms) == 0 {
		return nil, nil
	}
	for i, t := range terms {
		terms[i] = "all:" + t
	}
	q := url.Values{}
	q.Set("search_query", strings.Join(terms, " AND "))
	q.Set("max_results", fmt.Sprintf("%d", limit))

	feed, err := c.query(ctx, q)
	if err != nil {
		return nil, err
	}
	results := make([]providers.Metadata, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if isErrorEntry(entry) {
			continue
		}
		results = append(results, entryToMetadata(entry))
	}
	return results, nil
}

func (c *Client) query(ctx context.Context, q url.Values) (*Feed, error) {
	resp, err := c.get(ctx, c.apiURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var feed Feed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, apperr.Unavailable(err, "decode arxiv feed")
	}
	return &feed, nil
}

// DownloadPDF lädt die PDF nach dir/<id>.pdf.
func (c *Client) DownloadPDF(ctx context.Context, id, dir string) (string, error) {
	id = NormalizeID(id)
	log := c.Logger.With(zap.String("arxiv_id", id))

	resp, err := c.get(ctx, fmt.Sprintf("%s/pdf/%s", c.baseURL, id))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	target := filepath.Join(dir, id+".pdf")
	out, err := os.Create(target)
	if err != nil {
		return "", apperr.Internal(err, "create %s", target)
	}
	if _, err := io.Copy(out, io.LimitReader(resp.Body, maxFileSize)); err != nil {
		out.Close()
		return "", apperr.Unavailable(err, "download pdf %s", id)
	}
	if err := out.Close(); err != nil {
		return "", apperr.Internal(err, "write %s", target)
	}
	log.Debug("PDF heruntergeladen", zap.String("path", target))
	return target, nil
}

// DownloadSource lädt das e-print-Archiv und entpackt es nach dir.
// Ein einzelnes gzip-Dokument wird als main.tex abgelegt.
func (c *Client) DownloadSource(ctx context.Context, id, dir string) (string, error) {
	id = NormalizeID(id)

	resp, err := c.get(ctx, fmt.Sprintf("%s/e-print/%s", c.baseURL, id))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := extractSource(bufio.NewReader(io.LimitReader(resp.Body, maxFileSize)), dir); err != nil {
		return "", err
	}
	c.Logger.Debug("Quellen entpackt", zap.String("arxiv_id", id), zap.String("dir", dir))
	return dir, nil
}

func extractSource(r *bufio.Reader, dir string) error {
	head, _ := r.Peek(4)
	if bytes.HasPrefix(head, []byte("%PDF")) {
		return apperr.NotFound("no source available, archive returned a pdf")
	}
	if !bytes.HasPrefix(head, []byte{0x1f, 0x8b}) {
		return writeFile(filepath.Join(dir, "main.tex"), r)
	}

	gzr, err := gzip.NewReader(r)
	if err != nil {
		return apperr.Unavailable(err, "open gzip source")
	}
	defer gzr.Close()

	data, err := io.ReadAll(io.LimitReader(gzr, maxFileSize))
	if err != nil {
		return apperr.Unavailable(err, "read gzip source")
	}
	if !isTar(data) {
		return writeFile(filepath.Join(dir, "main.tex"), bytes.NewReader(data))
	}
	return extractTar(bytes.NewReader(data), dir)
}

func isTar(data []byte) bool {
	return len(data) > 262 && string(data[257:262]) == "ustar"
}

func extractTar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apperr.Unavailable(err, "read source tarball")
		}

		// Pfade außerhalb von dir werden übersprungen
		name := filepath.Clean(hdr.Name)
		if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
			continue
		}
		target := filepath.Join(dir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return apperr.Internal(err, "mkdir %s", target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return apperr.Internal(err, "mkdir %s", target)
			}
			if err := writeFile(target, tr); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return apperr.Internal(err, "create %s", path)
	}
	if _, err := io.CopyN(f, r, maxFileSize); err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return apperr.Unavailable(err, "write %s", path)
	}
	return f.Close()
}

// get führt einen GET mit Rate-Limit und fester Anzahl Retries aus.
// 429, 5xx und Netzwerkfehler werden wiederholt, 404 wird zu NotFound.
func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.Logger.Debug("Retrying arxiv request",
				zap.String("url", target), zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, apperr.Unavailable(ctx.Err(), "arxiv request cancelled")
			case <-time.After(c.retryDelay):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.Unavailable(err, "arxiv rate limiter")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, apperr.Internal(err, "build arxiv request")
		}
		req.Header.Set("User-Agent", "paper-graph/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperr.Unavailable(err, "arxiv request cancelled")
			}
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, apperr.NotFound("arxiv resource %s not found", target)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("arxiv returned status %d", resp.StatusCode)
		default:
			resp.Body.Close()
			return nil, apperr.Unavailable(fmt.Errorf("status %d", resp.StatusCode), "arxiv request failed")
		}
	}
	return nil, apperr.Unavailable(lastErr, "arxiv unreachable after %d attempts", c.maxRetries+1)
}

func entryToMetadata(entry Entry) providers.Metadata {
	md := providers.Metadata{
		ArxivID:  extractID(entry.ID),
		Title:    normalizeWhitespace(entry.Title),
		Abstract: normalizeWhitespace(entry.Summary),
		URL:      strings.TrimSpace(entry.ID),
	}

	names := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if name := normalizeWhitespace(a.Name); name != "" {
			names = append(names, name)
		}
	}
	md.Authors = strings.Join(names, ", ")

	for _, l := range entry.Links {
		if l.Rel == "alternate" && l.Href != "" {
			md.URL = l.Href
			break
		}
	}
	md.PublishedAt = parseTime(entry.Published)
	md.UpdatedAt = parseTime(entry.Updated)
	return md
}

func isErrorEntry(entry Entry) bool {
	return strings.Contains(entry.ID, "/api/errors") || strings.TrimSpace(entry.Title) == "Error"
}

func extractID(entryURL string) string {
	m := entryIDRegex.FindStringSubmatch(strings.TrimSpace(entryURL))
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// NormalizeID entfernt das Versionssuffix ("2401.00123v2" -> "2401.00123").
func NormalizeID(id string) string {
	return versionRegex.ReplaceAllString(strings.TrimSpace(id), "")
}

func parseTime(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &t
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
