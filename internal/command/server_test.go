package command

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/adamavenir/ledgerchat/internal/engine"
)

func TestMetricsRouter(t *testing.T) {
	state := engine.State{Channel: "0xc4a1", Count: 137, LoadedPages: []uint64{2}}
	srv := httptest.NewServer(newMetricsRouter(zerolog.Nop(), func() engine.State { return state }))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state status %d", resp.StatusCode)
	}
	var decoded engine.State
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if decoded.Channel != "0xc4a1" || decoded.Count != 137 {
		t.Fatalf("unexpected state %+v", decoded)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ledgerchat_messages_merged_total") {
		t.Fatalf("metrics output missing engine counters")
	}
}

func TestMetricsRouterRejectsPost(t *testing.T) {
	srv := httptest.NewServer(newMetricsRouter(zerolog.Nop(), func() engine.State { return engine.State{} }))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/debug/state", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
