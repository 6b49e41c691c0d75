// Package drive is a thin client for the remote storage API. Operations
// are stateless pass-throughs: parameters in, typed response or typed
// failure out, with a bearer token attached to every request.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the metadata/content endpoint root.
	DefaultBaseURL = "https://www.googleapis.com/drive/v3"
	// DefaultUploadBaseURL is the upload endpoint root.
	DefaultUploadBaseURL = "https://www.googleapis.com/upload/drive/v3"
)

// ErrCredentialExpired indicates the storage API rejected the bearer
// token. The caller should resolve a fresh token and re-invoke.
var ErrCredentialExpired = errors.New("storage API rejected credentials")

// File is the subset of remote file metadata this tool displays.
type File struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size,string"`
	ModifiedTime time.Time `json:"modifiedTime"`
}

// About describes the authorized user and quota.
type About struct {
	User struct {
		DisplayName  string `json:"displayName"`
		EmailAddress string `json:"emailAddress"`
	} `json:"user"`
	StorageQuota struct {
		Usage int64 `json:"usage,string"`
		Limit int64 `json:"limit,string"`
	} `json:"storageQuota"`
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the metadata endpoint root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithUploadBaseURL overrides the upload endpoint root.
func WithUploadBaseURL(baseURL string) Option {
	return func(c *Client) { c.uploadBaseURL = baseURL }
}

// WithTransport sets a custom base transport under the token-attaching one.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) { c.base = transport }
}

// Client issues authenticated requests against the storage API.
type Client struct {
	httpClient    *http.Client
	base          http.RoundTripper
	baseURL       string
	uploadBaseURL string
}

// New creates a Client whose requests carry tokens from ts.
func New(ts oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		base:          http.DefaultTransport,
		baseURL:       DefaultBaseURL,
		uploadBaseURL: DefaultUploadBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}

	// oauth2.Transport attaches the bearer token to every outgoing request
	c.httpClient = &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: c.base},
	}
	return c
}

// About returns the authorized user and storage quota.
func (c *Client) About(ctx context.Context) (*About, error) {
	query := url.Values{"fields": {"user,storageQuota"}}

	var about About
	if err := c.getJSON(ctx, c.baseURL+"/about?"+query.Encode(), &about); err != nil {
		return nil, err
	}
	return &about, nil
}

// List returns file metadata matching the provider query string. An empty
// query lists everything the account can see, newest first.
func (c *Client) List(ctx context.Context, q string, max int) ([]File, error) {
	query := url.Values{
		"fields":   {"files(id,name,mimeType,size,modifiedTime)"},
		"orderBy":  {"modifiedTime desc"},
		"pageSize": {strconv.Itoa(max)},
	}
	if q != "" {
		query.Set("q", q)
	}

	var result struct {
		Files []File `json:"files"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/files?"+query.Encode(), &result); err != nil {
		return nil, err
	}
	return result.Files, nil
}

// Download streams the file's content into w and returns the byte count.
func (c *Client) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+url.PathEscape(fileID)+"?alt=media", nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, apiError(resp)
	}
	return io.Copy(w, resp.Body)
}

// Upload creates a remote file named name with r's content, optionally
// under parentID, and returns the created metadata.
func (c *Client) Upload(ctx context.Context, name, parentID string, r io.Reader) (*File, error) {
	metadata := map[string]any{"name": name}
	if parentID != "" {
		metadata["parents"] = []string{parentID}
	}

	body, contentType, err := multipartRelated(metadata, r)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"uploadType": {"multipart"},
		"fields":     {"id,name,mimeType,size,modifiedTime"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadBaseURL+"/files?"+query.Encode(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var file File
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}
	return &file, nil
}

// Share grants email the given role ("reader", "writer", ...) on a file.
func (c *Client) Share(ctx context.Context, fileID, email, role string) error {
	payload, err := json.Marshal(map[string]string{
		"role":         role,
		"type":         "user",
		"emailAddress": email,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/"+url.PathEscape(fileID)+"/permissions", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, requestURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// apiError turns a non-200 response into a typed failure, picking the
// provider's message out of the error body when present.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	message := gjson.GetBytes(body, "error.message").String()
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrCredentialExpired, message)
	}
	return fmt.Errorf("storage API error (status %d): %s", resp.StatusCode, message)
}

// multipartRelated builds the two-part request body the multipart upload
// endpoint expects: JSON metadata, then the media content.
func multipartRelated(metadata map[string]any, media io.Reader) (io.Reader, string, error) {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := metaPart.Write(metadataJSON); err != nil {
		return nil, "", err
	}

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", "application/octet-stream")
	mediaPart, err := writer.CreatePart(mediaHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(mediaPart, media); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	contentType := "multipart/related; boundary=" + writer.Boundary()
	return &buf, contentType, nil
}
