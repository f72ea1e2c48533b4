package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"affiliate/internal/auth"
	"affiliate/internal/catalog"
	"affiliate/internal/config"
	"affiliate/internal/db"
	"affiliate/internal/dmqueue"
	"affiliate/internal/instagram"
	"affiliate/internal/log"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type nopSender struct{}

func (nopSender) Send(ctx context.Context, recipientID, text string, creds instagram.Credentials) error {
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *gorm.DB) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := (&auth.Service{DB: gdb}).CreateAdmin(context.Background(), "admin@example.com", "a long enough password"); err != nil {
		t.Fatalf("create admin: %v", err)
	}

	reg := prometheus.NewRegistry()
	metrics := dmqueue.NewMetrics(reg)
	repo := &dmqueue.Repo{DB: gdb}
	ledger := dmqueue.NewLedger(gdb, 0, 0)
	store := &instagram.ConfigStore{DB: gdb, Fallback: instagram.Credentials{AccessToken: "env"}}
	disp := dmqueue.NewDispatcher(repo, ledger, &catalog.Composer{DB: gdb}, nopSender{}, store, dmqueue.Options{Metrics: metrics})
	gate := &dmqueue.Gate{Repo: repo, Worker: disp, Metrics: metrics}

	cfg := config.Config{}
	cfg.Instagram.VerifyToken = "verify-me"

	h := NewRouter(cfg, Deps{
		DB:         gdb,
		JWT:        auth.NewJWT("test-secret"),
		Gate:       gate,
		Dispatcher: disp,
		Config:     store,
		Gatherer:   reg,
		Logger:     log.Nop(),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, gdb
}

func login(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/auth/login", "application/json",
		strings.NewReader(`{"email":"admin@example.com","password":"a long enough password"}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return out.Token
}

func do(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(method, url, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAdminRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)
	if resp := do(t, http.MethodGet, srv.URL+"/admin/queue/stats", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestWebhookToQueueFlow(t *testing.T) {
	srv, gdb := newTestServer(t)
	token := login(t, srv)

	section := catalog.Section{Title: "Desk setup"}
	if err := gdb.Create(&section).Error; err != nil {
		t.Fatalf("seed section: %v", err)
	}

	resp := do(t, http.MethodPost, srv.URL+"/admin/reels", token,
		fmt.Sprintf(`{"reel_url":"https://www.instagram.com/reel/Abc123/","section_id":%d,"keyword":"Desk"}`, section.ID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert reel: %d", resp.StatusCode)
	}
	var mapping instagram.ReelMapping
	if err := json.NewDecoder(resp.Body).Decode(&mapping); err != nil {
		t.Fatalf("decode mapping: %v", err)
	}
	if mapping.ReelID != "Abc123" || mapping.Active {
		t.Fatalf("unexpected mapping: %+v", mapping)
	}

	if resp := do(t, http.MethodPost, fmt.Sprintf("%s/admin/reels/%d/publish", srv.URL, mapping.ID), token, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("publish: %d", resp.StatusCode)
	}

	comment := `{"entry":[{"changes":[{"field":"comments","value":{"id":"c1","text":"desk","media":{"id":"Abc123"},"from":{"id":"u1","username":"ana"}}}]}]}`
	for i := 0; i < 2; i++ {
		if resp := do(t, http.MethodPost, srv.URL+"/webhooks/instagram", "", comment); resp.StatusCode != http.StatusOK {
			t.Fatalf("webhook: %d", resp.StatusCode)
		}
	}

	resp = do(t, http.MethodGet, srv.URL+"/admin/queue/stats", token, "")
	var stats dmqueue.QueueStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Pending != 1 || !stats.WorkerActive || stats.EstimatedMinutesToClear != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	resp = do(t, http.MethodGet, srv.URL+"/admin/queue/jobs?status=pending", token, "")
	var jobs struct {
		Items []struct {
			Username string `json:"username"`
			Status   string `json:"status"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs.Items) != 1 || jobs.Items[0].Username != "ana" {
		t.Fatalf("unexpected jobs: %+v", jobs.Items)
	}

	if resp := do(t, http.MethodGet, srv.URL+"/admin/queue/jobs?status=bogus", token, ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.StatusCode)
	}
}

func TestInstagramConfigHidesToken(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	if resp := do(t, http.MethodPut, srv.URL+"/admin/instagram/config", token, `{"access_token":"secret-token","account_id":"178"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("save config: %d", resp.StatusCode)
	}

	resp := do(t, http.MethodGet, srv.URL+"/admin/instagram/config", token, "")
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["configured"] != true || out["account_id"] != "178" {
		t.Fatalf("unexpected config view: %v", out)
	}
	for _, v := range out {
		if s, ok := v.(string); ok && strings.Contains(s, "secret-token") {
			t.Fatalf("token leaked in response")
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}

func TestReelDeleteAndInstagramStats(t *testing.T) {
	srv, gdb := newTestServer(t)
	token := login(t, srv)

	section := catalog.Section{Title: "Kitchen"}
	if err := gdb.Create(&section).Error; err != nil {
		t.Fatalf("seed section: %v", err)
	}

	var ids []uint64
	for _, reel := range []string{"R1", "R2"} {
		resp := do(t, http.MethodPost, srv.URL+"/admin/reels", token,
			fmt.Sprintf(`{"reel_id":"%s","section_id":%d,"keyword":"pan"}`, reel, section.ID))
		var m instagram.ReelMapping
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			t.Fatalf("decode mapping: %v", err)
		}
		ids = append(ids, m.ID)
	}
	if resp := do(t, http.MethodPost, fmt.Sprintf("%s/admin/reels/%d/publish", srv.URL, ids[0]), token, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("publish: %d", resp.StatusCode)
	}

	comment := `{"entry":[{"changes":[{"field":"comments","value":{"id":"c9","text":"pan","media":{"id":"R1"},"from":{"id":"u9","username":"bea"}}}]}]}`
	if resp := do(t, http.MethodPost, srv.URL+"/webhooks/instagram", "", comment); resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: %d", resp.StatusCode)
	}

	type statsView struct {
		TotalComments   int64 `json:"total_comments"`
		CommentsLast24h int64 `json:"comments_last_24h"`
		TotalDMs        int64 `json:"total_dms"`
		DMSuccessRate   int   `json:"dm_success_rate"`
		ActiveMappings  int64 `json:"active_mappings"`
		TotalMappings   int64 `json:"total_mappings"`
	}
	readStats := func() statsView {
		resp := do(t, http.MethodGet, srv.URL+"/admin/instagram/stats", token, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("stats: %d", resp.StatusCode)
		}
		var s statsView
		if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
			t.Fatalf("decode stats: %v", err)
		}
		return s
	}

	// the job is still pending, so no DM has finished yet
	want := statsView{TotalComments: 1, CommentsLast24h: 1, ActiveMappings: 1, TotalMappings: 2}
	if got := readStats(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	resp := do(t, http.MethodGet, srv.URL+"/admin/comments", token, "")
	var feed struct {
		Items []struct {
			TriggerID    string  `json:"trigger_id"`
			SectionTitle *string `json:"section_title"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		t.Fatalf("decode comments: %v", err)
	}
	if len(feed.Items) != 1 || feed.Items[0].SectionTitle == nil || *feed.Items[0].SectionTitle != "Kitchen" {
		t.Fatalf("expected section title in activity, got %+v", feed.Items)
	}

	del := fmt.Sprintf("%s/admin/reels/%d", srv.URL, ids[1])
	if resp := do(t, http.MethodDelete, del, token, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodDelete, del, token, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 deleting twice, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodDelete, srv.URL+"/admin/reels/abc", token, ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad id, got %d", resp.StatusCode)
	}
	if got := readStats(); got.TotalMappings != 1 || got.ActiveMappings != 1 {
		t.Fatalf("expected one mapping left, got %+v", got)
	}
}
