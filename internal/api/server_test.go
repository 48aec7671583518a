package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"imageserver/internal/api"
	"imageserver/internal/config"
	"imageserver/internal/dispatch"
	"imageserver/internal/fetch"
	"imageserver/internal/images"
	"imageserver/internal/maintenance"
	"imageserver/internal/pipeline"
	"imageserver/internal/testsupport"
	"imageserver/internal/validate"
	"imageserver/internal/variants"
)

type apiEnv struct {
	cfg    *config.Config
	store  *images.Store
	server *httptest.Server
}

func newAPIEnv(t *testing.T, opts ...testsupport.ConfigOption) *apiEnv {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithRetries(1, 1)}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	disks := testsupport.MustDisks(t, cfg)

	registry, err := variants.FromConfig(cfg)
	if err != nil {
		t.Fatalf("variants.FromConfig: %v", err)
	}
	checker := validate.NewChecker(cfg.Downloads.MaxFileSize, cfg.Downloads.AllowedExtensions)
	runner := pipeline.NewRunner(
		pipeline.NewDownloadStage(store, disks, fetch.New(cfg, nil), checker, nil),
		pipeline.NewVariantStage(store, disks, registry, nil),
		nil,
	)
	dispatcher, err := dispatch.New(cfg, runner, nil)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	t.Cleanup(func() { dispatcher.Close() })

	deleter := maintenance.NewDeleter(store, disks, nil)
	srv := api.NewServer(cfg, store, disks, dispatcher, deleter, nil)
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)

	return &apiEnv{cfg: cfg, store: store, server: server}
}

func (e *apiEnv) submit(t *testing.T, url string) (*http.Response, api.ImageView) {
	t.Helper()
	body, _ := json.Marshal(api.SubmitRequest{URL: url})
	resp, err := http.Post(e.server.URL+"/api/images", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/images: %v", err)
	}
	defer resp.Body.Close()
	var view api.ImageView
	if resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, view
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	payload := testsupport.PNGBytes(t, 200, 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSubmitRunsPipelineAndReturnsRecord(t *testing.T) {
	env := newAPIEnv(t)
	src := imageServer(t)

	resp, view := env.submit(t, src.URL+"/photo.png")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if view.Status != images.StatusDone.String() {
		t.Fatalf("record status = %s, want done after sync dispatch", view.Status)
	}
	if view.OriginalFile == nil {
		t.Fatal("response lacks original file")
	}
	if len(view.Variants) != 2 {
		t.Fatalf("response has %d variants, want 2", len(view.Variants))
	}

	// Same URL again: the existing record comes back untouched.
	resp2, view2 := env.submit(t, src.URL+"/photo.png")
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("resubmit status = %d, want 200", resp2.StatusCode)
	}
	if view2.ID != view.ID {
		t.Fatalf("resubmit returned id %d, want %d", view2.ID, view.ID)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := http.Post(env.server.URL+"/api/images", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", resp.StatusCode)
	}

	for _, bad := range []string{"", "ftp://example.org/x.png", "example.org/x.png"} {
		resp, _ := env.submit(t, bad)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("url %q status = %d, want 422", bad, resp.StatusCode)
		}
	}
}

func TestShowAndDelete(t *testing.T) {
	env := newAPIEnv(t)
	src := imageServer(t)
	_, view := env.submit(t, src.URL+"/keep.png")

	resp, err := http.Get(fmt.Sprintf("%s/api/images/%d", env.server.URL, view.ID))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var got api.ImageView
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || got.ID != view.ID {
		t.Fatalf("show = %d / id %d", resp.StatusCode, got.ID)
	}

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/images/%d", env.server.URL, view.ID), nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	resp, err = http.Get(fmt.Sprintf("%s/api/images/%d", env.server.URL, view.ID))
	if err != nil {
		t.Fatalf("GET after delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("show after delete = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteTreatsDeletingRecordAsGone(t *testing.T) {
	env := newAPIEnv(t)
	src := imageServer(t)
	_, view := env.submit(t, src.URL+"/teardown.png")

	// Another caller has already started tearing the record down.
	if _, err := env.store.MarkDeleting(context.Background(), view.ID); err != nil {
		t.Fatalf("MarkDeleting: %v", err)
	}

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/images/%d", env.server.URL, view.ID), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete of a deleting record = %d, want 404", resp.StatusCode)
	}
}

func TestShowUnknownImage(t *testing.T) {
	env := newAPIEnv(t)
	resp, err := http.Get(env.server.URL + "/api/images/9999")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(env.server.URL + "/api/images/abc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-numeric id status = %d, want 400", resp.StatusCode)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	env := newAPIEnv(t)
	src := imageServer(t)
	env.submit(t, src.URL+"/a.png")

	// A queued record that the pipeline never touched.
	if _, _, err := env.store.Create(context.Background(), "https://example.org/untouched.png"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := http.Get(env.server.URL + "/api/images?status=done")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var list api.ImageListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(list.Images) != 1 || list.Images[0].Status != "done" {
		t.Fatalf("filtered list = %+v", list.Images)
	}

	resp, err = http.Get(env.server.URL + "/api/images?status=bogus")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d, want 400", resp.StatusCode)
	}
}

func TestStatusEndpointCounts(t *testing.T) {
	env := newAPIEnv(t)
	src := imageServer(t)
	env.submit(t, src.URL+"/counted.png")

	resp, err := http.Get(env.server.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var status api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if status.Total != 1 || status.Counts["done"] != 1 {
		t.Fatalf("status = %+v", status)
	}
}

func TestBearerTokenGuardsAPI(t *testing.T) {
	env := newAPIEnv(t, func(cfg *config.Config) {
		cfg.API.Token = "sekrit"
	})

	resp, err := http.Get(env.server.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}

	// Metrics stay open for scrapers.
	resp, err = http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
}
