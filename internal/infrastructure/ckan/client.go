package ckan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/ports"
)

const searchPageSize = 1000

// Client talks to a CKAN catalog through its action API.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
}

var _ ports.Catalog = (*Client)(nil)

// NewClient creates a reusable catalog client; a nil httpClient gets a
// default one.
func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/3/action/",
		apiKey:   apiKey,
		http:     httpClient,
		logger:   logger,
	}
}

func (c *Client) ShowDataset(ctx context.Context, id string) (domain.CanonicalDataset, error) {
	var pkg wirePackage
	if err := c.action(ctx, "package_show", "dataset", id, map[string]any{"id": id}, &pkg); err != nil {
		return domain.CanonicalDataset{}, err
	}
	return pkg.toDomain(), nil
}

func (c *Client) CreateDataset(ctx context.Context, ds domain.CanonicalDataset) (domain.CanonicalDataset, error) {
	var pkg wirePackage
	if err := c.action(ctx, "package_create", "dataset", ds.ID, fromDomain(ds), &pkg); err != nil {
		return domain.CanonicalDataset{}, err
	}
	return pkg.toDomain(), nil
}

func (c *Client) UpdateDataset(ctx context.Context, ds domain.CanonicalDataset) (domain.CanonicalDataset, error) {
	var pkg wirePackage
	if err := c.action(ctx, "package_update", "dataset", ds.ID, fromDomain(ds), &pkg); err != nil {
		return domain.CanonicalDataset{}, err
	}
	return pkg.toDomain(), nil
}

func (c *Client) PurgeDataset(ctx context.Context, id string) error {
	return c.action(ctx, "dataset_purge", "dataset", id, map[string]any{"id": id}, nil)
}

// SearchHarvestedIDs pages through package_search filtered on the
// harvest_source_id extra.
func (c *Client) SearchHarvestedIDs(ctx context.Context, sourceID string) (map[string]struct{}, error) {
	ids := map[string]struct{}{}
	for start := 0; ; start += searchPageSize {
		payload := map[string]any{
			"fq":              fmt.Sprintf(`%s:"%s"`, domain.ExtraHarvestSourceID, sourceID),
			"fl":              "id",
			"rows":            searchPageSize,
			"start":           start,
			"include_private": true,
		}
		var page struct {
			Count   int `json:"count"`
			Results []struct {
				ID string `json:"id"`
			} `json:"results"`
		}
		if err := c.action(ctx, "package_search", "search", sourceID, payload, &page); err != nil {
			return nil, err
		}
		for _, r := range page.Results {
			ids[r.ID] = struct{}{}
		}
		if len(page.Results) == 0 || start+len(page.Results) >= page.Count {
			return ids, nil
		}
	}
}

func (c *Client) ShowOrganization(ctx context.Context, ref string) (domain.Organization, error) {
	var org wireOrganization
	if err := c.action(ctx, "organization_show", "organization", ref, map[string]any{"id": ref, "include_datasets": false}, &org); err != nil {
		return domain.Organization{}, err
	}
	return org.toDomain(), nil
}

func (c *Client) CreateOrganization(ctx context.Context, org domain.Organization) (domain.Organization, error) {
	var created wireOrganization
	if err := c.action(ctx, "organization_create", "organization", org.Name, organizationPayload(org), &created); err != nil {
		return domain.Organization{}, err
	}
	return created.toDomain(), nil
}

func (c *Client) ShowGroup(ctx context.Context, ref string) (domain.Group, error) {
	var g wireGroup
	if err := c.action(ctx, "group_show", "group", ref, map[string]any{"id": ref, "include_datasets": false}, &g); err != nil {
		return domain.Group{}, err
	}
	return domain.Group{ID: g.ID, Name: g.Name, Title: g.Title}, nil
}

func (c *Client) CreateGroup(ctx context.Context, group domain.Group) (domain.Group, error) {
	payload := map[string]any{"name": group.Name}
	if group.ID != "" {
		payload["id"] = group.ID
	}
	if group.Title != "" {
		payload["title"] = group.Title
	}
	var g wireGroup
	if err := c.action(ctx, "group_create", "group", group.Name, payload, &g); err != nil {
		return domain.Group{}, err
	}
	return domain.Group{ID: g.ID, Name: g.Name, Title: g.Title}, nil
}

func (c *Client) ShowUser(ctx context.Context, ref string) error {
	return c.action(ctx, "user_show", "user", ref, map[string]any{"id": ref}, nil)
}

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   map[string]any  `json:"error"`
}

// action posts payload to the named action and decodes the result into v.
// kind and ref only label the typed errors.
func (c *Client) action(ctx context.Context, name, kind, ref string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+name, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: do request: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", name, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: unexpected status %s", name, resp.Status)
		}
		return fmt.Errorf("%s: decode response: %w", name, err)
	}
	if !env.Success {
		return actionError(name, kind, ref, resp.StatusCode, env.Error)
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, v); err != nil {
		return fmt.Errorf("%s: decode result: %w", name, err)
	}
	return nil
}

func actionError(name, kind, ref string, status int, body map[string]any) error {
	errType, _ := body["__type"].(string)
	message, _ := body["message"].(string)

	switch {
	case errType == "Not Found Error" || status == http.StatusNotFound:
		return &domain.NotFoundError{Kind: kind, Ref: ref}
	case errType == "Validation Error":
		fields := map[string][]string{}
		for key, value := range body {
			if key == "__type" || key == "message" {
				continue
			}
			fields[key] = messages(value)
		}
		if conflict(fields) {
			return &domain.ConflictError{Kind: kind, Ref: ref}
		}
		return &domain.ValidationError{Message: message, Fields: fields}
	}

	if message == "" {
		message = fmt.Sprintf("status %d", status)
	}
	if errType != "" {
		return fmt.Errorf("%s: %s: %s", name, errType, message)
	}
	return fmt.Errorf("%s: %s", name, message)
}

func messages(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, messages(item)...)
		}
		return out
	case map[string]any:
		var out []string
		for key, item := range v {
			for _, msg := range messages(item) {
				out = append(out, key+": "+msg)
			}
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// conflict recognises the "already in use" rejection of name and id.
func conflict(fields map[string][]string) bool {
	for _, key := range []string{"name", "id"} {
		for _, msg := range fields[key] {
			if strings.Contains(strings.ToLower(msg), "already") {
				return true
			}
		}
	}
	return false
}
