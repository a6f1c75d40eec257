package instagram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

type staticCreds Credentials

func (c staticCreds) Credentials() (Credentials, error) { return Credentials(c), nil }

var testCreds = staticCreds{AccessToken: "tok-123", UserID: "17800000001"}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL}, testCreds, logx.Nop())
}

func TestCreateContainerSendsDraftUpload(t *testing.T) {
	var gotPath string
	var gotForm url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotForm = r.PostForm
		if r.URL.Query().Get("access_token") != "tok-123" {
			t.Errorf("access_token = %q", r.URL.Query().Get("access_token"))
		}
		_, _ = w.Write([]byte(`{"id":"container-9"}`))
	})

	id, err := c.CreateContainer(context.Background(), "http://host/v.mp4", "Title\n\nBody")
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if id != "container-9" {
		t.Fatalf("container id = %q", id)
	}
	if gotPath != "/17800000001/media" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotForm.Get("video_url") != "http://host/v.mp4" ||
		gotForm.Get("caption") != "Title\n\nBody" ||
		gotForm.Get("published") != "false" {
		t.Fatalf("form = %v", gotForm)
	}
}

func TestContainerStatusReadsStatusCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/container-9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("fields") != "status_code" {
			t.Errorf("fields = %q", r.URL.Query().Get("fields"))
		}
		_, _ = w.Write([]byte(`{"status_code":"IN_PROGRESS","id":"container-9"}`))
	})

	st, err := c.ContainerStatus(context.Background(), "container-9")
	if err != nil {
		t.Fatalf("ContainerStatus: %v", err)
	}
	if st != StatusProcessing {
		t.Fatalf("status = %q", st)
	}
}

func TestPublishReturnsMediaID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/17800000001/media_publish" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = r.ParseForm()
		if r.PostForm.Get("creation_id") != "container-9" {
			t.Errorf("creation_id = %q", r.PostForm.Get("creation_id"))
		}
		_, _ = w.Write([]byte(`{"id":"media-42"}`))
	})

	id, err := c.Publish(context.Background(), "container-9")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id != "media-42" {
		t.Fatalf("media id = %q", id)
	}
}

func TestMetricsTreatsOmittedFieldsAsZero(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"like_count":15,"comments_count":2,"id":"media-42"}`))
	})

	m, err := c.Metrics(context.Background(), "media-42")
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if m.Likes != 15 || m.Comments != 2 || m.Views != 0 {
		t.Fatalf("engagement = %+v", m)
	}
}

func TestAPIErrorDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
	})

	_, err := c.CreateContainer(context.Background(), "http://host/v.mp4", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.HTTPStatus != 400 || apiErr.Code != 100 || apiErr.Type != "OAuthException" {
		t.Fatalf("api error = %+v", apiErr)
	}
	if apiErr.Message != "Invalid parameter" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestMissingCredentialsSkipNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, staticCreds{AccessToken: "tok"}, logx.Nop())
	if err := c.CheckCredentials(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := c.CreateContainer(context.Background(), "u", "c"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if called {
		t.Fatalf("no request must be made without credentials")
	}
}

func TestBaseURLDefaultAndTrim(t *testing.T) {
	c := New(Config{BaseURL: " https://example.test/api/ "}, testCreds, logx.Nop())
	if c.base != "https://example.test/api" {
		t.Fatalf("base = %q", c.base)
	}
	c = New(Config{}, testCreds, logx.Nop())
	if c.base != "https://graph.facebook.com/v21.0" {
		t.Fatalf("default base = %q", c.base)
	}
}
