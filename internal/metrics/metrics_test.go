package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	return w.Body.String()
}

func TestHandler(t *testing.T) {
	if Handler() == nil {
		t.Fatal("Handler() returned nil")
	}

	SetSolverBalance("2captcha", 4.5)

	body := scrape(t)
	if !strings.Contains(body, `flathunter_captcha_solver_balance{provider="2captcha"} 4.5`) {
		t.Error("Expected solver balance gauge in output")
	}
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "go1.24")

	body := scrape(t)
	if !strings.Contains(body, "flathunter_build_info") {
		t.Error("Expected flathunter_build_info metric")
	}
	if !strings.Contains(body, `version="1.0.0"`) {
		t.Error("Expected version label in build_info")
	}
	if !strings.Contains(body, `go_version="go1.24"`) {
		t.Error("Expected go_version label in build_info")
	}
}

func TestRecordResolution(t *testing.T) {
	RecordResolution("geetest", "commercial", "solved")
	RecordResolution("recaptcha", "manual", "solved")

	body := scrape(t)
	if !strings.Contains(body, `flathunter_captcha_resolutions_total{kind="geetest",outcome="solved",strategy="commercial"}`) {
		t.Error("Expected labelled resolution counter")
	}
}

func TestRecordSolve(t *testing.T) {
	RecordSolve("capsolver", "recaptcha", 12*time.Second)

	body := scrape(t)
	if !strings.Contains(body, "flathunter_captcha_solve_duration_seconds") {
		t.Error("Expected flathunter_captcha_solve_duration_seconds metric")
	}
}

func TestRecordPageLoad(t *testing.T) {
	RecordPageLoad("immobilienscout", "ok", 3*time.Second)
	RecordPageLoad("immobilienscout", "blocked", 40*time.Second)
	RecordChallenge("blocked")

	body := scrape(t)
	if !strings.Contains(body, `flathunter_page_loads_total{site="immobilienscout",status="blocked"} 1`) {
		t.Error("Expected blocked page load counter")
	}
	if !strings.Contains(body, "flathunter_page_load_duration_seconds") {
		t.Error("Expected flathunter_page_load_duration_seconds metric")
	}
	if !strings.Contains(body, "flathunter_challenges_seen_total") {
		t.Error("Expected flathunter_challenges_seen_total metric")
	}
}

func TestStartMemoryCollector(t *testing.T) {
	stopCh := make(chan struct{})
	go StartMemoryCollector(50*time.Millisecond, stopCh)
	time.Sleep(150 * time.Millisecond)
	close(stopCh)

	body := scrape(t)
	if !strings.Contains(body, "flathunter_memory_usage_bytes") {
		t.Error("Expected flathunter_memory_usage_bytes metric")
	}
	if !strings.Contains(body, "flathunter_goroutines") {
		t.Error("Expected flathunter_goroutines metric")
	}
}
