package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"positionengine/src/gateway"
	"positionengine/src/model"
	"positionengine/src/risk"

	"github.com/stretchr/testify/assert"
)

type mockAdmitter struct {
	pos    *model.Position
	err    error
	signal model.Signal
}

func (m *mockAdmitter) Admit(_ context.Context, sig model.Signal) (*model.Position, error) {
	m.signal = sig
	return m.pos, m.err
}

const signalBody = `{
	"symbol": "BTCUSDT",
	"direction": "LONG",
	"entry": "50000",
	"targets": ["51000", "52000"],
	"stop_loss": "49000"
}`

func TestSubmitSignalHandler_Created(t *testing.T) {
	admitter := &mockAdmitter{pos: &model.Position{ID: "p1", Symbol: "BTCUSDT"}}
	handler := SubmitSignalHandler(admitter)

	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(signalBody))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if admitter.signal.Symbol != "BTCUSDT" || admitter.signal.Direction != model.DirectionLong {
		t.Fatalf("unexpected decoded signal: %+v", admitter.signal)
	}
	if !strings.Contains(rr.Body.String(), `"p1"`) {
		t.Fatalf("expected position in body, got %s", rr.Body.String())
	}
}

func TestSubmitSignalHandler_BadPayload(t *testing.T) {
	handler := SubmitSignalHandler(&mockAdmitter{})

	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestSubmitSignalHandler_PortfolioLimit(t *testing.T) {
	admitter := &mockAdmitter{err: &risk.PortfolioLimitError{Reason: "open trades already at maximum 5"}}
	handler := SubmitSignalHandler(admitter)

	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(signalBody))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestSubmitSignalHandler_GatewayDown(t *testing.T) {
	admitter := &mockAdmitter{err: fmt.Errorf("equity unavailable: %w", gateway.ErrTransient)}
	handler := SubmitSignalHandler(admitter)

	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(signalBody))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestSubmitSignalHandler_InvalidSignal(t *testing.T) {
	admitter := &mockAdmitter{err: assert.AnError}
	handler := SubmitSignalHandler(admitter)

	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(signalBody))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
