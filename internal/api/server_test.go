package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/joblistings/internal/domain"
	"github.com/dunamismax/joblistings/internal/ingest"
	"github.com/dunamismax/joblistings/internal/queue"
	"github.com/dunamismax/joblistings/internal/ratelimit"
	"github.com/dunamismax/joblistings/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/hibiken/asynq"
)

const canonicalHeader = "Proposed Job Title,Image,Job Sector,Select Province,Job score,Job Approximate Time,Settlement Score,Settlement Approximate Time"

func TestUploadThenFetchReturnsSubmittedRecord(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{})

	rec := upload(t, srv, "listings.csv", canonicalHeader+"\nWelder,img.png,Trades,Ontario,8,3 months,7,6 months\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var ack map[string]any
	decodeBody(t, rec, &ack)
	if ack["message"] != uploadSuccessMessage {
		t.Fatalf("unexpected message: %v", ack["message"])
	}
	if ack["records"] != float64(1) {
		t.Fatalf("expected records=1, got %v", ack["records"])
	}

	rec = fetch(srv)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rows []map[string]string
	decodeBody(t, rec, &rows)
	want := []map[string]string{{
		"Proposed Job Title":          "Welder",
		"Image":                       "img.png",
		"Job Sector":                  "Trades",
		"Select Province":             "Ontario",
		"Job score":                   "8",
		"Job Approximate Time":        "3 months",
		"Settlement Score":            "7",
		"Settlement Approximate Time": "6 months",
	}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("fetched rows mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadFetchKeepsQuotedCRLF(t *testing.T) {
	for name, datasets := range map[string]store.DatasetStore{
		"memory": store.NewMemoryDatasetStore(),
		"file":   mustFileStore(t, filepath.Join(t.TempDir(), "uploaded_data.csv")),
	} {
		t.Run(name, func(t *testing.T) {
			srv := newTestServer(t, datasets, Options{})

			payload := canonicalHeader + "\r\n\"Line1\r\nLine2\",img.png,Trades,Ontario,8,3 months,7,6 months\r\n"
			if rec := upload(t, srv, "listings.csv", payload); rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}

			var rows []map[string]string
			decodeBody(t, fetch(srv), &rows)
			if len(rows) != 1 {
				t.Fatalf("expected 1 row, got %d", len(rows))
			}
			if got := rows[0]["Proposed Job Title"]; got != "Line1\r\nLine2" {
				t.Fatalf("expected submitted text, got %q", got)
			}
			if got := rows[0]["Settlement Approximate Time"]; got != "6 months" {
				t.Fatalf("unexpected last field %q", got)
			}
		})
	}
}

func TestUploadMissingColumnLeavesDatasetUnchanged(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{})

	missingScore := "Proposed Job Title,Image,Job Sector,Select Province,Job Approximate Time,Settlement Score,Settlement Approximate Time\n" +
		"Welder,img.png,Trades,Ontario,3 months,7,6 months\n"

	rec := upload(t, srv, "listings.csv", missingScore)
	assertError(t, rec, http.StatusUnprocessableEntity, "schema_violation")
	if !strings.Contains(rec.Body.String(), "Job score") {
		t.Fatalf("expected detail to name the missing column, got %s", rec.Body.String())
	}
	assertError(t, fetch(srv), http.StatusNotFound, "not_found")

	if rec := upload(t, srv, "listings.csv", canonicalHeader+"\nNurse,n.png,Health,Quebec,9,1 year,8,2 years\n"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	before := fetch(srv).Body.String()

	rec = upload(t, srv, "listings.csv", missingScore)
	assertError(t, rec, http.StatusUnprocessableEntity, "schema_violation")

	if after := fetch(srv).Body.String(); after != before {
		t.Fatalf("dataset changed after rejected upload:\nbefore=%s\nafter=%s", before, after)
	}
}

func TestUploadRejectsPartiallyInvalidFile(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{})

	payload := canonicalHeader + "\n" +
		"Welder,img.png,Trades,Ontario,8,3 months,7,6 months\n" +
		"Baker,b.png,Food\n"
	rec := upload(t, srv, "listings.csv", payload)
	assertError(t, rec, http.StatusUnprocessableEntity, "schema_violation")
	if !strings.Contains(rec.Body.String(), "row 2") {
		t.Fatalf("expected detail to name row 2, got %s", rec.Body.String())
	}
	assertError(t, fetch(srv), http.StatusNotFound, "not_found")
}

func TestUploadRejectsNonCSVFilename(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{})

	for _, name := range []string{"listings.txt", "listings.CSV", "listings.csv.bak", ""} {
		rec := upload(t, srv, name, canonicalHeader+"\nWelder,img.png,Trades,Ontario,8,3 months,7,6 months\n")
		assertError(t, rec, http.StatusBadRequest, "invalid_file_type")
	}
	assertError(t, fetch(srv), http.StatusNotFound, "not_found")
}

func TestFetchBeforeUploadIsNotFound(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{})
	assertError(t, fetch(srv), http.StatusNotFound, "not_found")
}

func TestUploadFetchRoundTripIsIdempotent(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{})

	payload := canonicalHeader + "\n" +
		"Welder,img.png,Trades,Ontario,8,3 months,7,6 months\n" +
		"\"Cook, line\",,Food,\"Nova Scotia\",,\"2 weeks\",5,\n" +
		"\"Says \"\"hi\"\"\",x.png,Retail,BC,1,1 day,2,3 days\n"
	if rec := upload(t, srv, "first.csv", payload); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	first := fetchRecords(t, srv)
	if len(first) != 3 {
		t.Fatalf("expected 3 records, got %d", len(first))
	}
	if first[1].ProposedJobTitle != "Cook, line" || first[1].Image != "" {
		t.Fatalf("unexpected second record: %+v", first[1])
	}

	var buf bytes.Buffer
	if err := ingest.Encode(&buf, first); err != nil {
		t.Fatalf("encode fetched records: %v", err)
	}
	if rec := upload(t, srv, "second.csv", buf.String()); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	second := fetchRecords(t, srv)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("round trip mismatch (-first +second):\n%s", diff)
	}
}

func TestUploadHeaderOnlyStoresEmptyDataset(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{})

	if rec := upload(t, srv, "empty.csv", canonicalHeader+"\n"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec := fetch(srv)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestUploadWithFileStorePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploaded_data.csv")
	fileStore, err := store.NewFileDatasetStore(path)
	if err != nil {
		t.Fatalf("NewFileDatasetStore returned error: %v", err)
	}
	srv := newTestServer(t, fileStore, Options{})
	if rec := upload(t, srv, "listings.csv", canonicalHeader+"\nWelder,img.png,Trades,Ontario,8,3 months,7,6 months\n"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	reopened, err := store.NewFileDatasetStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	restarted := newTestServer(t, reopened, Options{})
	records := fetchRecords(t, restarted)
	if len(records) != 1 || records[0].Province != "Ontario" {
		t.Fatalf("unexpected records after restart: %+v", records)
	}
}

func TestUploadPersistenceFailure(t *testing.T) {
	srv := newTestServer(t, failingStore{}, Options{})

	rec := upload(t, srv, "listings.csv", canonicalHeader+"\nWelder,img.png,Trades,Ontario,8,3 months,7,6 months\n")
	assertError(t, rec, http.StatusInternalServerError, "persistence_error")
}

func TestUploadMissingFileField(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("note", "no file here")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPut, "/upload-csv/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assertError(t, rec, http.StatusBadRequest, "bad_request")

	req = httptest.NewRequest(http.MethodPut, "/upload-csv/", strings.NewReader(canonicalHeader))
	req.Header.Set("Content-Type", "text/csv")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assertError(t, rec, http.StatusBadRequest, "bad_request")
}

func TestUploadMalformedMultipartIsBadRequest(t *testing.T) {
	const boundary = "joblistings-boundary"
	partHeader := "--" + boundary + "\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"listings.csv\"\r\n" +
		"Content-Type: text/csv\r\n\r\n"

	cases := []struct {
		name string
		body string
	}{
		{
			name: "truncated part",
			body: partHeader + canonicalHeader + "\nWelder,img.png,Trades,Ontario,8,3 months,7,6 months\n",
		},
		{
			name: "no boundary in body",
			body: canonicalHeader + "\nWelder,img.png,Trades,Ontario,8,3 months,7,6 months\n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{})

			req := httptest.NewRequest(http.MethodPut, "/upload-csv/", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			assertError(t, rec, http.StatusBadRequest, "bad_request")
			assertError(t, fetch(srv), http.StatusNotFound, "not_found")
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{MaxUploadBytes: 256})

	payload := canonicalHeader + "\n" + strings.Repeat("Welder,img.png,Trades,Ontario,8,3 months,7,6 months\n", 20)
	rec := upload(t, srv, "listings.csv", payload)
	assertError(t, rec, http.StatusRequestEntityTooLarge, "payload_too_large")
}

func TestUploadEnqueuesNotification(t *testing.T) {
	notifier := &captureNotifier{}
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{Notifier: notifier})
	fixed := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	srv.now = func() time.Time { return fixed }

	rec := upload(t, srv, "listings.csv", canonicalHeader+"\nWelder,img.png,Trades,Ontario,8,3 months,7,6 months\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(notifier.payloads) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.payloads))
	}
	got := notifier.payloads[0]
	if got.Filename != "listings.csv" || got.Records != 1 || !got.ReplacedAt.Equal(fixed) || got.UploadID == "" {
		t.Fatalf("unexpected notification payload: %+v", got)
	}

	upload(t, srv, "listings.txt", canonicalHeader)
	if len(notifier.payloads) != 1 {
		t.Fatalf("expected rejected upload not to notify, got %d notifications", len(notifier.payloads))
	}
}

func TestUploadSucceedsWhenNotificationFails(t *testing.T) {
	notifier := &captureNotifier{err: errors.New("redis unavailable")}
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{Notifier: notifier})

	rec := upload(t, srv, "listings.csv", canonicalHeader+"\nWelder,img.png,Trades,Ontario,8,3 months,7,6 months\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite enqueue failure, got %d", rec.Code)
	}
}

func TestUploadRateLimited(t *testing.T) {
	limiter := &fixedLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{RateLimiter: limiter})

	rec := upload(t, srv, "listings.csv", canonicalHeader+"\n")
	assertError(t, rec, http.StatusTooManyRequests, "rate_limited")
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}

	if rec := fetch(srv); rec.Code != http.StatusNotFound {
		t.Fatalf("expected fetch to bypass rate limiting, got %d", rec.Code)
	}
	if limiter.calls != 1 {
		t.Fatalf("expected limiter to be consulted once, got %d", limiter.calls)
	}
}

func TestRootAndHealthz(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var root map[string]string
	decodeBody(t, rec, &root)
	if root["message"] != rootMessage {
		t.Fatalf("unexpected root message %q", root["message"])
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var health map[string]string
	decodeBody(t, rec, &health)
	if health["status"] != "ok" || health["dataset"] != string(domain.DatasetAbsent) {
		t.Fatalf("unexpected health body: %v", health)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryDatasetStore(), Options{CORSOrigins: []string{"http://127.0.0.1:5500"}})

	req := httptest.NewRequest(http.MethodOptions, "/upload-csv/", nil)
	req.Header.Set("Origin", "http://127.0.0.1:5500")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:5500" {
		t.Fatalf("unexpected allow-origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow-origin for unknown origin, got %q", got)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/":            "/",
		"/upload-csv/": "/upload-csv/",
		"/upload-csv":  "/upload-csv/",
		"/data/":       "/data/",
		"/healthz":     "/healthz",
		"/nope":        "other",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

func newTestServer(t *testing.T, datasets store.DatasetStore, opts Options) *Server {
	t.Helper()
	return NewServer(log.New(io.Discard, "", 0), datasets, opts)
}

func mustFileStore(t *testing.T, path string) *store.FileDatasetStore {
	t.Helper()
	datasets, err := store.NewFileDatasetStore(path)
	if err != nil {
		t.Fatalf("NewFileDatasetStore returned error: %v", err)
	}
	return datasets
}

func upload(t *testing.T, srv *Server, filename, content string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(uploadFormField, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/upload-csv/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func fetch(srv *Server) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/data/", nil))
	return rec
}

func fetchRecords(t *testing.T, srv *Server) []domain.Record {
	t.Helper()
	rec := fetch(srv)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var records []domain.Record
	decodeBody(t, rec, &records)
	return records
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var body errorBody
	decodeBody(t, rec, &body)
	if body.Error != kind {
		t.Fatalf("expected error kind %q, got %q", kind, body.Error)
	}
	if body.Detail == "" {
		t.Fatal("expected a human readable detail")
	}
}

type failingStore struct{}

func (failingStore) Replace(context.Context, []domain.Record) error {
	return errors.Join(domain.ErrPersistence, errors.New("disk full"))
}

func (failingStore) ReadAll(context.Context) ([]domain.Record, error) {
	return nil, domain.ErrNotFound
}

func (failingStore) State() domain.DatasetState {
	return domain.DatasetAbsent
}

type captureNotifier struct {
	payloads []queue.DatasetReplacedPayload
	err      error
}

func (n *captureNotifier) EnqueueDatasetReplaced(_ context.Context, payload queue.DatasetReplacedPayload) (*asynq.TaskInfo, error) {
	if n.err != nil {
		return nil, n.err
	}
	n.payloads = append(n.payloads, payload)
	return &asynq.TaskInfo{ID: payload.UploadID}, nil
}

type fixedLimiter struct {
	decision ratelimit.Decision
	calls    int
}

func (l *fixedLimiter) Allow(context.Context, string, int64) (ratelimit.Decision, error) {
	l.calls++
	return l.decision, nil
}
