package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at-test", TokenType: "Bearer"})
	return New(ts, WithBaseURL(srv.URL), WithUploadBaseURL(srv.URL))
}

func requireBearer(t *testing.T, r *http.Request) {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != "Bearer at-test" {
		t.Errorf("Authorization = %q, want Bearer at-test", got)
	}
}

func TestList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		if r.URL.Path != "/files" {
			t.Errorf("path = %s, want /files", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "name contains 'report'" {
			t.Errorf("q = %q", got)
		}
		if got := r.URL.Query().Get("pageSize"); got != "5" {
			t.Errorf("pageSize = %q, want 5", got)
		}

		// Sizes come back string-encoded, as the provider sends them
		_, _ = io.WriteString(w, `{"files": [
			{"id": "f1", "name": "report.pdf", "mimeType": "application/pdf", "size": "2048", "modifiedTime": "2026-08-01T10:00:00Z"},
			{"id": "f2", "name": "report-v2.pdf", "mimeType": "application/pdf", "size": "4096", "modifiedTime": "2026-08-02T10:00:00Z"}
		]}`)
	})

	files, err := client.List(context.Background(), "name contains 'report'", 5)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List returned %d files, want 2", len(files))
	}
	if files[0].ID != "f1" || files[0].Size != 2048 {
		t.Errorf("files[0] = %+v", files[0])
	}
	if files[1].ModifiedTime.IsZero() {
		t.Error("modifiedTime not parsed")
	}
}

func TestAbout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		if r.URL.Path != "/about" {
			t.Errorf("path = %s, want /about", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{
			"user": {"displayName": "Alice", "emailAddress": "alice@example.com"},
			"storageQuota": {"usage": "1024", "limit": "1073741824"}
		}`)
	})

	about, err := client.About(context.Background())
	if err != nil {
		t.Fatalf("About: %v", err)
	}
	if about.User.EmailAddress != "alice@example.com" {
		t.Errorf("email = %q", about.User.EmailAddress)
	}
	if about.StorageQuota.Usage != 1024 || about.StorageQuota.Limit != 1073741824 {
		t.Errorf("quota = %+v", about.StorageQuota)
	}
}

func TestDownload(t *testing.T) {
	content := strings.Repeat("x", 1000)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		if r.URL.Path != "/files/f1" {
			t.Errorf("path = %s, want /files/f1", r.URL.Path)
		}
		if got := r.URL.Query().Get("alt"); got != "media" {
			t.Errorf("alt = %q, want media", got)
		}
		_, _ = io.WriteString(w, content)
	})

	var buf bytes.Buffer
	n, err := client.Download(context.Background(), "f1", &buf)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != int64(len(content)) || buf.String() != content {
		t.Errorf("Download wrote %d bytes, want %d", n, len(content))
	}
}

func TestUpload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		if got := r.URL.Query().Get("uploadType"); got != "multipart" {
			t.Errorf("uploadType = %q, want multipart", got)
		}

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Fatalf("parsing content type: %v", err)
		}
		if mediaType != "multipart/related" {
			t.Errorf("media type = %q, want multipart/related", mediaType)
		}

		mr := multipart.NewReader(r.Body, params["boundary"])

		metaPart, err := mr.NextPart()
		if err != nil {
			t.Fatalf("reading metadata part: %v", err)
		}
		var metadata struct {
			Name    string   `json:"name"`
			Parents []string `json:"parents"`
		}
		if err := json.NewDecoder(metaPart).Decode(&metadata); err != nil {
			t.Fatalf("decoding metadata: %v", err)
		}
		if metadata.Name != "notes.txt" {
			t.Errorf("metadata name = %q, want notes.txt", metadata.Name)
		}
		if len(metadata.Parents) != 1 || metadata.Parents[0] != "folder-1" {
			t.Errorf("metadata parents = %v, want [folder-1]", metadata.Parents)
		}

		mediaPart, err := mr.NextPart()
		if err != nil {
			t.Fatalf("reading media part: %v", err)
		}
		media, _ := io.ReadAll(mediaPart)
		if string(media) != "file content" {
			t.Errorf("media = %q, want file content", media)
		}

		_, _ = io.WriteString(w, `{"id": "f-new", "name": "notes.txt", "mimeType": "text/plain", "size": "12", "modifiedTime": "2026-08-28T10:00:00Z"}`)
	})

	file, err := client.Upload(context.Background(), "notes.txt", "folder-1", strings.NewReader("file content"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if file.ID != "f-new" || file.Size != 12 {
		t.Errorf("uploaded file = %+v", file)
	}
}

func TestShare(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		if r.Method != http.MethodPost || r.URL.Path != "/files/f1/permissions" {
			t.Errorf("%s %s, want POST /files/f1/permissions", r.Method, r.URL.Path)
		}

		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		want := map[string]string{"role": "writer", "type": "user", "emailAddress": "bob@example.com"}
		for key, value := range want {
			if payload[key] != value {
				t.Errorf("payload[%s] = %q, want %q", key, payload[key], value)
			}
		}

		_, _ = io.WriteString(w, `{"id": "perm-1"}`)
	})

	if err := client.Share(context.Background(), "f1", "bob@example.com", "writer"); err != nil {
		t.Fatalf("Share: %v", err)
	}
}

func TestUnauthorizedMapsToCredentialExpired(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": {"code": 401, "message": "Invalid Credentials"}}`)
	})

	_, err := client.About(context.Background())
	if !errors.Is(err, ErrCredentialExpired) {
		t.Fatalf("About = %v, want ErrCredentialExpired", err)
	}
	if !strings.Contains(err.Error(), "Invalid Credentials") {
		t.Errorf("error %q does not carry the provider message", err)
	}
}

func TestAPIErrorMessageExtraction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error": {"code": 404, "message": "File not found: f1"}}`)
	})

	_, err := client.List(context.Background(), "", 10)
	if err == nil {
		t.Fatal("List over 404 succeeded")
	}
	if errors.Is(err, ErrCredentialExpired) {
		t.Error("404 mapped to ErrCredentialExpired")
	}
	if !strings.Contains(err.Error(), "File not found: f1") {
		t.Errorf("error %q does not carry the provider message", err)
	}
}
