package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/asksudo-go/internal/ingestion"
	"github.com/54b3r/asksudo-go/internal/ledger"
)

func TestCreateDocument_WaitSuccess(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.ingester.onIngest = func(id string) { env.docs.setStatus(id, ledger.StatusReady, 3) }

	w := env.do(t, http.MethodPost, "/api/documents",
		`{"ownerId":"alice","sourceUrl":"https://utfs.io/f/abc123","wait":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body: %s", w.Code, w.Body.String())
	}

	var resp documentResponse
	decode(t, w, &resp)
	if resp.Result == nil || !resp.Result.Success || resp.Result.ChunksProcessed != 3 {
		t.Errorf("unexpected result: %+v", resp.Result)
	}
	if resp.Document.Status != ledger.StatusReady {
		t.Errorf("expected refreshed status ready, got %q", resp.Document.Status)
	}
	if resp.Document.FileName != "abc123" || resp.Document.MimeType != "application/pdf" {
		t.Errorf("metadata not inferred: name=%q mime=%q", resp.Document.FileName, resp.Document.MimeType)
	}

	calls := env.ingester.recorded()
	if len(calls) != 1 {
		t.Fatalf("expected 1 ingest call, got %d", len(calls))
	}
	if calls[0].ownerID != "alice" || calls[0].sourceURL != "" {
		t.Errorf("unexpected call: %+v", calls[0])
	}
}

func TestCreateDocument_WaitFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.ingester.result = ingestion.Result{Error: "ingestion: fetch: unexpected status 404"}

	w := env.do(t, http.MethodPost, "/api/documents",
		`{"ownerId":"alice","sourceUrl":"https://example.com/notes.pdf","wait":true,"fileName":"Week 1.pdf"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d, body: %s", w.Code, w.Body.String())
	}

	var resp documentResponse
	decode(t, w, &resp)
	if resp.Result == nil || resp.Result.Success || resp.Result.Error == "" {
		t.Errorf("expected failed result with error, got %+v", resp.Result)
	}
	if resp.Document.FileName != "Week 1.pdf" {
		t.Errorf("caller file name overwritten: %q", resp.Document.FileName)
	}
}

func TestCreateDocument_Background(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.ingester.block = make(chan struct{})
	env.ingester.started = make(chan struct{}, 1)

	w := env.do(t, http.MethodPost, "/api/documents",
		`{"id":"doc-bg","ownerId":"alice","sourceUrl":"https://example.com/a.pdf"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d, body: %s", w.Code, w.Body.String())
	}

	var resp documentResponse
	decode(t, w, &resp)
	if resp.Document.ID != "doc-bg" || resp.Document.Status != ledger.StatusPending {
		t.Errorf("unexpected document: %+v", resp.Document)
	}
	if resp.Result != nil {
		t.Errorf("expected no result on 202, got %+v", resp.Result)
	}

	select {
	case <-env.ingester.started:
	case <-time.After(5 * time.Second):
		t.Fatal("background ingestion never started")
	}
	if got := testutil.ToFloat64(env.srv.metrics.backgroundIngestions); got != 1 {
		t.Errorf("want 1 background ingestion, got %v", got)
	}

	close(env.ingester.block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.srv.drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	calls := env.ingester.recorded()
	if len(calls) != 1 || calls[0].documentID != "doc-bg" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if calls[0].ctxErr != nil {
		t.Errorf("background attempt must outlive the request, ctx err: %v", calls[0].ctxErr)
	}
	if got := testutil.ToFloat64(env.srv.metrics.backgroundIngestions); got != 0 {
		t.Errorf("want 0 background ingestions after drain, got %v", got)
	}
}

func TestDrain_TimeoutCancelsBackground(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.ingester.block = make(chan struct{}) // never closed
	env.ingester.started = make(chan struct{}, 1)

	w := env.do(t, http.MethodPost, "/api/documents",
		`{"ownerId":"alice","sourceUrl":"https://example.com/a.pdf"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	<-env.ingester.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := env.srv.drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	calls := env.ingester.recorded()
	if len(calls) != 1 || !errors.Is(calls[0].ctxErr, context.Canceled) {
		t.Errorf("expected the attempt to observe cancellation, got %+v", calls)
	}
}

func TestCreateDocument_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{"ownerId":`},
		{"unknown field", `{"ownerId":"alice","sourceUrl":"https://example.com/a.pdf","extra":1}`},
		{"missing owner", `{"sourceUrl":"https://example.com/a.pdf"}`},
		{"blank owner", `{"ownerId":"  ","sourceUrl":"https://example.com/a.pdf"}`},
		{"missing url", `{"ownerId":"alice"}`},
		{"ftp url", `{"ownerId":"alice","sourceUrl":"ftp://example.com/a.pdf"}`},
		{"local path", `{"ownerId":"alice","sourceUrl":"/etc/passwd"}`},
		{"file url", `{"ownerId":"alice","sourceUrl":"file:///etc/passwd"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)

			w := env.do(t, http.MethodPost, "/api/documents", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d, body: %s", w.Code, w.Body.String())
			}
			if n := len(env.ingester.recorded()); n != 0 {
				t.Errorf("expected no ingestion, got %d calls", n)
			}
		})
	}
}

func TestCreateDocument_Duplicate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	body := `{"id":"doc-1","ownerId":"alice","sourceUrl":"https://example.com/a.pdf","wait":true}`

	if w := env.do(t, http.MethodPost, "/api/documents", body); w.Code != http.StatusCreated {
		t.Fatalf("first create: expected 201, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/documents", body); w.Code != http.StatusConflict {
		t.Errorf("second create: expected 409, got %d", w.Code)
	}
	if n := len(env.ingester.recorded()); n != 1 {
		t.Errorf("expected 1 ingestion, got %d", n)
	}
}

func TestCreateDocument_StoreError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.docs.err = errors.New("disk full")

	w := env.do(t, http.MethodPost, "/api/documents",
		`{"ownerId":"alice","sourceUrl":"https://example.com/a.pdf"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestGetDocument(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	if _, err := env.docs.Create(context.Background(), &ledger.Document{
		ID: "doc-1", OwnerID: "alice", SourceURL: "https://example.com/a.pdf",
	}); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		path string
		want int
	}{
		{"/api/documents/doc-1?ownerId=alice", http.StatusOK},
		{"/api/documents/doc-1?ownerId=bob", http.StatusNotFound},
		{"/api/documents/doc-2?ownerId=alice", http.StatusNotFound},
		{"/api/documents/doc-1", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if w := env.do(t, http.MethodGet, tc.path, ""); w.Code != tc.want {
			t.Errorf("GET %s: expected %d, got %d", tc.path, tc.want, w.Code)
		}
	}

	var resp documentResponse
	decode(t, env.do(t, http.MethodGet, "/api/documents/doc-1?ownerId=alice", ""), &resp)
	if resp.Document.ID != "doc-1" || resp.Document.Status != ledger.StatusPending {
		t.Errorf("unexpected document: %+v", resp.Document)
	}
}

func TestListDocuments(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	for _, d := range []ledger.Document{
		{ID: "a1", OwnerID: "alice", SourceURL: "https://example.com/1.pdf"},
		{ID: "b1", OwnerID: "bob", SourceURL: "https://example.com/2.pdf"},
		{ID: "a2", OwnerID: "alice", SourceURL: "https://example.com/3.pdf"},
	} {
		if _, err := env.docs.Create(context.Background(), &d); err != nil {
			t.Fatal(err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/documents?ownerId=alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp listDocumentsResponse
	decode(t, w, &resp)
	if len(resp.Documents) != 2 || resp.Documents[0].ID != "a2" || resp.Documents[1].ID != "a1" {
		t.Errorf("expected alice's documents newest first, got %+v", resp.Documents)
	}

	w = env.do(t, http.MethodGet, "/api/documents?ownerId=carol", "")
	if body := w.Body.String(); body != "{\"documents\":[]}\n" {
		t.Errorf("expected empty array, got %q", body)
	}

	if w := env.do(t, http.MethodGet, "/api/documents", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing owner: expected 400, got %d", w.Code)
	}
}

func TestIngestDocument(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	if _, err := env.docs.Create(context.Background(), &ledger.Document{
		ID: "doc-1", OwnerID: "alice", SourceURL: "https://example.com/a.pdf",
	}); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/api/documents/doc-1/ingest",
		`{"ownerId":"alice","sourceUrl":"https://mirror.example.com/a.pdf","wait":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", w.Code, w.Body.String())
	}
	calls := env.ingester.recorded()
	if len(calls) != 1 || calls[0].sourceURL != "https://mirror.example.com/a.pdf" {
		t.Errorf("source override not forwarded: %+v", calls)
	}

	// Owner may also come from the query string.
	w = env.do(t, http.MethodPost, "/api/documents/doc-1/ingest?ownerId=alice", `{"wait":true}`)
	if w.Code != http.StatusOK {
		t.Errorf("query owner: expected 200, got %d", w.Code)
	}
}

func TestIngestDocument_Rejections(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	if _, err := env.docs.Create(context.Background(), &ledger.Document{
		ID: "doc-1", OwnerID: "alice", SourceURL: "https://example.com/a.pdf",
	}); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"other owner", "/api/documents/doc-1/ingest", `{"ownerId":"bob","wait":true}`, http.StatusNotFound},
		{"unknown document", "/api/documents/doc-9/ingest", `{"ownerId":"alice","wait":true}`, http.StatusNotFound},
		{"missing owner", "/api/documents/doc-1/ingest", `{"wait":true}`, http.StatusBadRequest},
		{"bad override", "/api/documents/doc-1/ingest", `{"ownerId":"alice","sourceUrl":"file:///etc/shadow"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if w := env.do(t, http.MethodPost, tc.path, tc.body); w.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
	}
	if n := len(env.ingester.recorded()); n != 0 {
		t.Errorf("expected no ingestion, got %d calls", n)
	}
}

func TestIsHTTPURL(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"https://utfs.io/f/abc":  true,
		"http://localhost:9000/": true,
		"https://":               false,
		"ftp://example.com/a":    false,
		"example.com/a.pdf":      false,
		"":                       false,
		"::not a url":            false,
	}
	for in, want := range cases {
		if got := isHTTPURL(in); got != want {
			t.Errorf("isHTTPURL(%q) = %v, want %v", in, got, want)
		}
	}
}
