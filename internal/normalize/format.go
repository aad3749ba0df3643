package normalize

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// FallbackFormat is used when neither the record nor its URL declare one.
	FallbackFormat = "data"
	// ImageFormat is the placeholder some upstreams use for every picture type.
	ImageFormat = "image"

	sniffWindow = 3072
)

var mimeFormats = map[string]string{
	"application/pdf":              "pdf",
	"application/zip":              "zip",
	"application/x-zip-compressed": "zip",
	"text/plain":                   "txt",
	"text/csv":                     "csv",
	"image/png":                    "png",
	"application/msword":           "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.template":   "dotx",
	"application/vnd.ms-word.document.macroEnabled.12":                          "docm",
	"application/vnd.ms-word.template.macroEnabled.12":                          "dotm",
	"application/vnd.ms-excel":                                                  "xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.template":      "xltx",
	"application/vnd.ms-excel.sheet.macroEnabled.12":                            "xlsm",
	"application/vnd.ms-excel.template.macroEnabled.12":                         "xltm",
	"application/vnd.ms-excel.addin.macroEnabled.12":                            "xlam",
	"application/vnd.ms-excel.sheet.binary.macroEnabled.12":                     "xlsb",
	"application/vnd.ms-powerpoint":                                             "ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"application/vnd.openxmlformats-officedocument.presentationml.template":     "potx",
	"application/vnd.openxmlformats-officedocument.presentationml.slideshow":    "ppsx",
	"application/vnd.ms-powerpoint.addin.macroEnabled.12":                       "ppam",
	"application/vnd.ms-powerpoint.presentation.macroEnabled.12":                "pptm",
	"application/vnd.ms-powerpoint.template.macroEnabled.12":                    "potm",
	"application/vnd.ms-powerpoint.slideshow.macroEnabled.12":                   "ppsm",
}

// FormatFromURL returns the URL path extension, or FallbackFormat.
func FormatFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return FallbackFormat
	}
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	if ext == "" {
		return FallbackFormat
	}
	return ext
}

// KnownFormat maps a MIME type to a catalog format using the curated table
// only. The second value is false for types outside the table.
func KnownFormat(contentType string) (string, bool) {
	mediaType := baseMediaType(contentType)
	for k, v := range mimeFormats {
		if strings.EqualFold(k, mediaType) {
			return v, true
		}
	}
	return "", false
}

// FormatFromContentType maps a MIME type to a catalog format: the curated
// table first, then the mimetype registry, then the bare subtype.
func FormatFromContentType(contentType string) string {
	if format, ok := KnownFormat(contentType); ok {
		return format
	}
	mediaType := baseMediaType(contentType)
	if m := mimetype.Lookup(mediaType); m != nil && m.Extension() != "" {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		if plus := strings.IndexByte(sub, '+'); plus > 0 {
			sub = sub[:plus]
		}
		return sub
	}
	return ""
}

func baseMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// Doer is the subset of *http.Client the sniffer needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sniffer resolves the concrete type behind resources declared as "image".
type Sniffer struct {
	client    Doer
	userAgent string
	logger    *slog.Logger
}

// NewSniffer wires the HTTP client used for content-type lookups.
func NewSniffer(client Doer, userAgent string, logger *slog.Logger) *Sniffer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Sniffer{client: client, userAgent: userAgent, logger: logger}
}

// ImageFormat fetches the content type of rawURL and derives the format
// from its MIME subtype, returning ImageFormat when the lookup fails.
func (p *Sniffer) ImageFormat(ctx context.Context, rawURL string) string {
	if p == nil {
		return ImageFormat
	}
	contentType, err := p.contentType(ctx, rawURL)
	if err != nil {
		if p.logger != nil {
			p.logger.Debug("content type lookup failed", "url", rawURL, "error", err)
		}
		return ImageFormat
	}
	if format := FormatFromContentType(contentType); format != "" {
		return format
	}
	return ImageFormat
}

func (p *Sniffer) contentType(ctx context.Context, rawURL string) (string, error) {
	if ct, err := p.headContentType(ctx, rawURL); err == nil && ct != "" {
		return ct, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	p.decorate(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		return ct, nil
	}

	detected, err := mimetype.DetectReader(io.LimitReader(resp.Body, sniffWindow))
	if err != nil {
		return "", fmt.Errorf("detect: %w", err)
	}
	return detected.String(), nil
}

func (p *Sniffer) headContentType(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", err
	}
	p.decorate(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Header.Get("Content-Type"), nil
}

func (p *Sniffer) decorate(req *http.Request) {
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
}
