package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.notion.com"
	apiVersion     = "2022-06-28"
)

// Fixed property names of the target database. Renaming a property in
// Notion breaks record creation, which is why upstream errors are passed
// through verbatim.
const (
	propTitle    = "Name"
	propDate     = "Date"
	propAmount   = "Amount"
	propMerchant = "Merchant"
	propNotes    = "Notes"
	propReceipt  = "Receipt"
)

// APIError is a non-success response from the Notion API. Status code and
// body are kept verbatim so callers can diagnose schema mismatches
// directly.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion API error (status %d): %s", e.StatusCode, e.Body)
}

// Record is one expense entry to create in the database. Amount is only
// included when set, Merchant and Notes only when non-empty, and the file
// attachment only when FileUploadID is set.
type Record struct {
	Title        string
	Date         string // ISO calendar date
	Amount       *float64
	Merchant     string
	Notes        string
	FileUploadID string
}

// Client talks to the Notion API. All calls carry the integration token
// and a fixed API version header.
type Client struct {
	baseURL    string
	token      string
	databaseID string
	client     *http.Client
}

// NewClient creates a Client for one target database. baseURL is only
// overridden in tests.
func NewClient(baseURL, token, databaseID string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		databaseID: databaseID,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateFileUpload requests an upload handle for a named file and returns
// its ID. The handle is short-lived: bytes are sent against it and it is
// consumed when the record references it.
func (c *Client) CreateFileUpload(ctx context.Context, filename string) (string, error) {
	body, err := json.Marshal(map[string]string{"filename": filename})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/file_uploads", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling notion API: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return "", err
	}

	var upload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return upload.ID, nil
}

// SendFileUpload transmits the file body against an upload handle.
func (c *Client) SendFileUpload(ctx context.Context, id, filename, mimeType string, data []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("creating form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("writing form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing form: %w", err)
	}

	url := fmt.Sprintf("%s/v1/file_uploads/%s/send", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setCommonHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling notion API: %w", err)
	}
	defer resp.Body.Close()

	return checkResponse(resp)
}

// CreateRecord creates one page in the target database.
func (c *Client) CreateRecord(ctx context.Context, rec Record) error {
	properties := map[string]any{
		propTitle: map[string]any{
			"title": []any{
				map[string]any{"text": map[string]any{"content": rec.Title}},
			},
		},
		propDate: map[string]any{
			"date": map[string]any{"start": rec.Date},
		},
	}

	if rec.Amount != nil {
		properties[propAmount] = map[string]any{"number": *rec.Amount}
	}
	if merchant := strings.TrimSpace(rec.Merchant); merchant != "" {
		properties[propMerchant] = richText(merchant)
	}
	if notes := strings.TrimSpace(rec.Notes); notes != "" {
		properties[propNotes] = richText(notes)
	}
	if rec.FileUploadID != "" {
		properties[propReceipt] = map[string]any{
			"files": []any{
				map[string]any{
					"type":        "file_upload",
					"file_upload": map[string]any{"id": rec.FileUploadID},
				},
			},
		}
	}

	body, err := json.Marshal(map[string]any{
		"parent":     map[string]any{"database_id": c.databaseID},
		"properties": properties,
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/pages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling notion API: %w", err)
	}
	defer resp.Body.Close()

	return checkResponse(resp)
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", apiVersion)
}

func richText(content string) map[string]any {
	return map[string]any{
		"rich_text": []any{
			map[string]any{"text": map[string]any{"content": content}},
		},
	}
}

// checkResponse turns a non-2xx response into an APIError carrying the raw
// body.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}
