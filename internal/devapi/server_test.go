package devapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/connectivity"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/mediastore"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/outbox"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/outbox/filestore"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/retention"
)

type fixture struct {
	base    string
	store   *mediastore.Store
	queue   *outbox.Queue
	monitor *connectivity.Monitor
	server  *Server
}

// newFixture stands up the API over real components: a media store and
// file-backed queue in a temp dir, and a monitor that starts offline.
func newFixture(t *testing.T, submit outbox.SubmitterFunc) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := mediastore.New(mediastore.Config{
		MediaRoot:       filepath.Join(dir, "media"),
		LedgerPath:      filepath.Join(dir, "ledger.json"),
		PolicyPath:      filepath.Join(dir, "retention.json"),
		MaxPayloadBytes: 2048,
	})
	if err != nil {
		t.Fatalf("mediastore.New: %v", err)
	}

	monitor := connectivity.NewMonitor(
		connectivity.ProberFunc(func(context.Context) bool { return false }),
		time.Minute,
	)
	if submit == nil {
		submit = func(context.Context, outbox.Submission) (string, error) {
			return "anl_1", nil
		}
	}
	queue := outbox.NewQueue(filestore.New(filepath.Join(dir, "queue.json")), submit, monitor,
		outbox.WithPace(1000))

	server, err := NewServer(Config{}, Deps{
		Media:   store,
		Queue:   queue,
		Network: monitor,
		Sweeper: retention.New(store, ""),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &fixture{base: ts.URL, store: store, queue: queue, monitor: monitor, server: server}
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// saveRaw uploads bytes through the raw-body path and returns the asset.
func (f *fixture) saveRaw(t *testing.T, name string, content []byte) mediastore.Asset {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.base+"/api/v1/media", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Filename", name)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("save media: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("save media status = %d", resp.StatusCode)
	}
	var asset mediastore.Asset
	decodeBody(t, resp, &asset)
	return asset
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.base + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	var health struct {
		Status    string              `json:"status"`
		Online    *bool               `json:"online"`
		Media     *mediastore.Stats   `json:"media"`
		Queue     outbox.Status       `json:"queue"`
		Retention *retention.Snapshot `json:"retention"`
	}
	decodeBody(t, resp, &health)

	if health.Status != "ok" {
		t.Fatalf("status = %q", health.Status)
	}
	if health.Online == nil || *health.Online {
		t.Fatalf("online = %v, want false", health.Online)
	}
	if health.Media == nil || health.Media.Count != 0 {
		t.Fatalf("media = %+v", health.Media)
	}
	if health.Queue.PendingCount != 0 {
		t.Fatalf("pending = %d", health.Queue.PendingCount)
	}
	if health.Retention == nil || health.Retention.Schedule != retention.DefaultSchedule {
		t.Fatalf("retention = %+v", health.Retention)
	}
}

func TestSaveMediaRawBody(t *testing.T) {
	f := newFixture(t, nil)

	content := []byte("png bytes")
	asset := f.saveRaw(t, "capture.PNG", content)

	if asset.ID == "" {
		t.Fatal("asset id missing")
	}
	if asset.Extension != "png" {
		t.Fatalf("extension = %q, want png", asset.Extension)
	}
	if asset.SizeBytes != int64(len(content)) {
		t.Fatalf("size = %d, want %d", asset.SizeBytes, len(content))
	}
}

func TestSaveMediaMultipart(t *testing.T) {
	f := newFixture(t, nil)

	content := []byte("jpeg bytes")
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "trail.jpeg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	resp, err := http.Post(f.base+"/api/v1/media", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post multipart: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var asset mediastore.Asset
	decodeBody(t, resp, &asset)
	if asset.Extension != "jpg" {
		t.Fatalf("extension = %q, want jpg", asset.Extension)
	}

	// Round-trip through the read endpoint.
	getResp, err := http.Get(f.base + "/api/v1/media/" + asset.ID)
	if err != nil {
		t.Fatalf("get media: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", getResp.StatusCode)
	}
	if ct := getResp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("content type = %q", ct)
	}
	var got bytes.Buffer
	if _, err := got.ReadFrom(getResp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(got.Bytes(), content) {
		t.Fatalf("body = %q, want %q", got.Bytes(), content)
	}
}

func TestSaveMediaMultipartWithoutImageFieldIs400(t *testing.T) {
	f := newFixture(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("notes", "no file here"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	resp, err := http.Post(f.base+"/api/v1/media", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post multipart: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSaveMediaOversizedIs413(t *testing.T) {
	f := newFixture(t, nil)

	req, err := http.NewRequest(http.MethodPost, f.base+"/api/v1/media",
		bytes.NewReader(bytes.Repeat([]byte("x"), 4096)))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Filename", "huge.jpg")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestGetMediaUnknownIs404(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.base + "/api/v1/media/no-such-asset")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error == "" {
		t.Fatal("expected an error message")
	}
}

func TestMediaPathAndDelete(t *testing.T) {
	f := newFixture(t, nil)
	asset := f.saveRaw(t, "capture.jpg", []byte("bytes"))

	resp, err := http.Get(f.base + "/api/v1/media/" + asset.ID + "/path")
	if err != nil {
		t.Fatalf("get path: %v", err)
	}
	var pathBody struct {
		Path string `json:"path"`
	}
	decodeBody(t, resp, &pathBody)
	if _, err := os.Stat(pathBody.Path); err != nil {
		t.Fatalf("reported path not readable: %v", err)
	}

	del := func() bool {
		req, err := http.NewRequest(http.MethodDelete, f.base+"/api/v1/media/"+asset.ID, nil)
		if err != nil {
			t.Fatalf("build delete: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delete status = %d", resp.StatusCode)
		}
		var body struct {
			Removed bool `json:"removed"`
		}
		decodeBody(t, resp, &body)
		return body.Removed
	}

	if !del() {
		t.Fatal("first delete should report removed=true")
	}
	if del() {
		t.Fatal("second delete should report removed=false")
	}
}

func TestCleanupEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.saveRaw(t, "fresh.jpg", []byte("bytes"))

	resp, err := http.Post(f.base+"/api/v1/media/cleanup", "application/json",
		strings.NewReader(`{"max_age_days": 1}`))
	if err != nil {
		t.Fatalf("post cleanup: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Deleted int `json:"deleted"`
	}
	decodeBody(t, resp, &body)
	if body.Deleted != 0 {
		t.Fatalf("deleted = %d, want 0 for a fresh asset", body.Deleted)
	}

	// Rejects non-positive overrides before touching the store.
	badResp, err := http.Post(f.base+"/api/v1/media/cleanup", "application/json",
		strings.NewReader(`{"max_age_days": -3}`))
	if err != nil {
		t.Fatalf("post cleanup: %v", err)
	}
	defer badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", badResp.StatusCode)
	}
}

func TestPurgeAndStats(t *testing.T) {
	f := newFixture(t, nil)
	f.saveRaw(t, "a.jpg", []byte("12345"))
	f.saveRaw(t, "b.png", []byte("1234567"))

	statsResp, err := http.Get(f.base + "/api/v1/media/stats")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	var stats mediastore.Stats
	decodeBody(t, statsResp, &stats)
	if stats.Count != 2 || stats.TotalBytes != 12 {
		t.Fatalf("stats = %+v", stats)
	}

	purgeResp, err := http.Post(f.base+"/api/v1/media/purge", "application/json", nil)
	if err != nil {
		t.Fatalf("post purge: %v", err)
	}
	var purged struct {
		Deleted int `json:"deleted"`
	}
	decodeBody(t, purgeResp, &purged)
	if purged.Deleted != 2 {
		t.Fatalf("deleted = %d, want 2", purged.Deleted)
	}

	afterResp, err := http.Get(f.base + "/api/v1/media/stats")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	var after mediastore.Stats
	decodeBody(t, afterResp, &after)
	if after.Count != 0 {
		t.Fatalf("count after purge = %d", after.Count)
	}
}

func TestEnqueueResolvesImagePath(t *testing.T) {
	f := newFixture(t, nil)
	asset := f.saveRaw(t, "capture.jpg", []byte("bytes"))

	resp, err := http.Post(f.base+"/api/v1/submissions", "application/json",
		strings.NewReader(fmt.Sprintf(`{"local_image_id": %q, "notes": "ridge"}`, asset.ID)))
	if err != nil {
		t.Fatalf("post submission: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var sub outbox.Submission
	decodeBody(t, resp, &sub)
	if sub.ID == "" {
		t.Fatal("submission id missing")
	}
	if sub.LocalImageID != asset.ID {
		t.Fatalf("local_image_id = %q", sub.LocalImageID)
	}
	if filepath.Base(sub.ImagePath) != asset.StorageKey {
		t.Fatalf("image_path = %q, want file %q", sub.ImagePath, asset.StorageKey)
	}

	listResp, err := http.Get(f.base + "/api/v1/submissions")
	if err != nil {
		t.Fatalf("list submissions: %v", err)
	}
	var list struct {
		Submissions []outbox.Submission `json:"submissions"`
		Count       int                 `json:"count"`
	}
	decodeBody(t, listResp, &list)
	if list.Count != 1 || len(list.Submissions) != 1 {
		t.Fatalf("list = %+v", list)
	}
}

func TestEnqueueUnknownImageIs404(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.base+"/api/v1/submissions", "application/json",
		strings.NewReader(`{"local_image_id": "ghost"}`))
	if err != nil {
		t.Fatalf("post submission: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEnqueueValidation(t *testing.T) {
	f := newFixture(t, nil)

	for name, body := range map[string]string{
		"missing id": `{"notes": "no image"}`,
		"bad json":   `{`,
	} {
		resp, err := http.Post(f.base+"/api/v1/submissions", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("%s: post: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}
}

func TestCancelSubmission(t *testing.T) {
	f := newFixture(t, nil)
	asset := f.saveRaw(t, "capture.jpg", []byte("bytes"))

	sub, err := f.queue.Enqueue(context.Background(), outbox.Submission{
		LocalImageID: asset.ID,
		ImagePath:    filepath.Join("unused", asset.StorageKey),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cancel := func() bool {
		req, err := http.NewRequest(http.MethodDelete, f.base+"/api/v1/submissions/"+sub.ID, nil)
		if err != nil {
			t.Fatalf("build cancel: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("cancel status = %d", resp.StatusCode)
		}
		var body struct {
			Cancelled bool `json:"cancelled"`
		}
		decodeBody(t, resp, &body)
		return body.Cancelled
	}

	if !cancel() {
		t.Fatal("first cancel should report cancelled=true")
	}
	if cancel() {
		t.Fatal("second cancel should report cancelled=false")
	}
}

func TestManualSyncDrainsWhenOnline(t *testing.T) {
	f := newFixture(t, nil)
	asset := f.saveRaw(t, "capture.jpg", []byte("bytes"))

	// Queue while offline so nothing drains early.
	resp, err := http.Post(f.base+"/api/v1/submissions", "application/json",
		strings.NewReader(fmt.Sprintf(`{"local_image_id": %q}`, asset.ID)))
	if err != nil {
		t.Fatalf("post submission: %v", err)
	}
	resp.Body.Close()

	// Offline: the trigger is a no-op.
	offResp, err := http.Post(f.base+"/api/v1/queue/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("post sync: %v", err)
	}
	var offRes outbox.Result
	decodeBody(t, offResp, &offRes)
	if offRes.Synced != 0 {
		t.Fatalf("offline sync result = %+v", offRes)
	}

	f.monitor.SetOnline(true)
	onResp, err := http.Post(f.base+"/api/v1/queue/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("post sync: %v", err)
	}
	var onRes outbox.Result
	decodeBody(t, onResp, &onRes)
	if onRes.Synced != 1 || onRes.Failed != 0 {
		t.Fatalf("online sync result = %+v", onRes)
	}

	statusResp, err := http.Get(f.base + "/api/v1/queue/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	var status outbox.Status
	decodeBody(t, statusResp, &status)
	if status.PendingCount != 0 {
		t.Fatalf("pending = %d after drain", status.PendingCount)
	}
	if status.LastSyncSuccess == nil {
		t.Fatal("expected a sync success timestamp")
	}
}

func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

func TestStatusStreamPushesUpdates(t *testing.T) {
	f := newFixture(t, nil)
	asset := f.saveRaw(t, "capture.jpg", []byte("bytes"))

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(f.base, "/api/v1/queue/status/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// First frame is the current snapshot.
	var first outbox.Status
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.PendingCount != 0 {
		t.Fatalf("snapshot pending = %d", first.PendingCount)
	}

	postResp, err := http.Post(f.base+"/api/v1/submissions", "application/json",
		strings.NewReader(fmt.Sprintf(`{"local_image_id": %q}`, asset.ID)))
	if err != nil {
		t.Fatalf("post submission: %v", err)
	}
	postResp.Body.Close()

	var next outbox.Status
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.PendingCount != 1 {
		t.Fatalf("update pending = %d, want 1", next.PendingCount)
	}
}

func TestShutdownClosesStatusStreams(t *testing.T) {
	f := newFixture(t, nil)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(f.base, "/api/v1/queue/status/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	var snapshot outbox.Status
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	if err := f.server.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// The close frame may race the TCP teardown; either way the next
	// read must fail.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, readErr := conn.ReadMessage(); readErr == nil {
		t.Fatal("expected the stream to close on shutdown")
	}
}
