package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"positionengine/src/risk"
)

type mockRiskSource struct {
	current risk.Snapshot
	swapped *risk.Snapshot
}

func (m *mockRiskSource) RiskConfig() risk.Snapshot { return m.current }

func (m *mockRiskSource) SwapRiskConfig(cfg risk.Snapshot) { m.swapped = &cfg }

func TestGetRiskConfigHandler(t *testing.T) {
	snap, err := risk.Config{RiskPerTrade: 0.02, MaxOpenTrades: 5, MaxPortfolioRisk: 0.1}.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	handler := GetRiskConfigHandler(&mockRiskSource{current: snap})

	req := httptest.NewRequest(http.MethodGet, "/risk/config", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "MaxOpenTrades") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestUpdateRiskConfigHandler_Swaps(t *testing.T) {
	source := &mockRiskSource{}
	handler := UpdateRiskConfigHandler(source)

	body := `{"RiskPerTrade": 0.01, "MaxOpenTrades": 3, "MaxPortfolioRisk": 0.05}`
	req := httptest.NewRequest(http.MethodPut, "/risk/config", strings.NewReader(body))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if source.swapped == nil {
		t.Fatalf("expected swap to be called")
	}
	if source.swapped.MaxOpenTrades != 3 {
		t.Fatalf("expected max open trades 3, got %d", source.swapped.MaxOpenTrades)
	}
}

func TestUpdateRiskConfigHandler_RejectsMissingLimits(t *testing.T) {
	source := &mockRiskSource{}
	handler := UpdateRiskConfigHandler(source)

	req := httptest.NewRequest(http.MethodPut, "/risk/config", strings.NewReader(`{"RiskPerTrade": 0.01}`))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	if source.swapped != nil {
		t.Fatalf("swap must not run on bad input")
	}
}

func TestUpdateRiskConfigHandler_BadPayload(t *testing.T) {
	handler := UpdateRiskConfigHandler(&mockRiskSource{})

	req := httptest.NewRequest(http.MethodPut, "/risk/config", strings.NewReader("nope"))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
