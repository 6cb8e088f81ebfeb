package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/anesxvito/MediChat-sub001/internal/intake"
	"github.com/anesxvito/MediChat-sub001/internal/models"
	"github.com/anesxvito/MediChat-sub001/internal/store"
)

// stubReasoner returns a fixed reply, or an error when set.
type stubReasoner struct {
	reply string
	err   error
}

func (r *stubReasoner) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.reply, nil
}

func (r *stubReasoner) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.reply, nil
}

func newTestServer(reasoner *stubReasoner) (*Server, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	orchestrator := intake.NewOrchestrator(st, reasoner, intake.WithDedupRepo(st))
	return NewServer(orchestrator), st
}

func createJSONRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func assertHTTPStatus(t *testing.T, want, got int, context string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: expected status %d, got %d", context, want, got)
	}
}

func assertJSONStatus(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
	if resp.Status != want {
		t.Errorf("Expected response status %q, got %q (message: %s)", want, resp.Status, resp.Message)
	}
}

func TestSubmitTurnHandler_Success(t *testing.T) {
	server, _ := newTestServer(&stubReasoner{reply: "Where does it hurt?"})
	mux := server.routes()

	req := createJSONRequest(t, "POST", "/conversations/turns", `{"patient_id":"patient-1","text":"My back hurts"}`)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "submit turn success")
	assertJSONStatus(t, rr, "ok")

	var resp models.APIResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected result object, got %T", resp.Result)
	}
	if result["reply"] != "Where does it hurt?" {
		t.Errorf("Expected assistant reply in result, got %v", result["reply"])
	}
	if result["visit_number"] != float64(1) {
		t.Errorf("Expected visit_number 1, got %v", result["visit_number"])
	}
}

func TestSubmitTurnHandler_BadRequest(t *testing.T) {
	server, _ := newTestServer(&stubReasoner{reply: "ok"})
	mux := server.routes()

	// Invalid JSON
	req := createJSONRequest(t, "POST", "/conversations/turns", `{not json`)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid JSON")
	assertJSONStatus(t, rr, "error")

	// Missing text
	req = createJSONRequest(t, "POST", "/conversations/turns", `{"patient_id":"patient-1","text":""}`)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty text")
	assertJSONStatus(t, rr, "error")
}

func TestSubmitTurnHandler_NotFoundAndForbidden(t *testing.T) {
	server, st := newTestServer(&stubReasoner{reply: "ok"})
	mux := server.routes()

	req := createJSONRequest(t, "POST", "/conversations/turns", `{"patient_id":"patient-1","conversation_id":"c_missing","text":"hi"}`)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown conversation")

	conv, _ := st.CreateConversation("patient-1")
	req = createJSONRequest(t, "POST", "/conversations/turns", `{"patient_id":"patient-2","conversation_id":"`+conv.ID+`","text":"hi"}`)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusForbidden, rr.Code, "foreign conversation")
}

func TestSubmitTurnHandler_UpstreamFailure(t *testing.T) {
	server, st := newTestServer(&stubReasoner{err: errors.New("service down")})
	mux := server.routes()

	conv, _ := st.CreateConversation("patient-1")
	req := createJSONRequest(t, "POST", "/conversations/turns", `{"patient_id":"patient-1","conversation_id":"`+conv.ID+`","text":"hi"}`)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assertHTTPStatus(t, http.StatusBadGateway, rr.Code, "upstream failure")
	assertJSONStatus(t, rr, "error")
}

func TestGetMessagesHandler(t *testing.T) {
	server, st := newTestServer(&stubReasoner{reply: "ok"})
	mux := server.routes()

	conv, _ := st.CreateConversation("patient-1")
	_ = st.AddMessage(models.Message{ID: "m_1", ConversationID: conv.ID, Role: models.MessageRolePatient, Content: "hello", CreatedAt: time.Now()})

	req := httptest.NewRequest("GET", "/conversations/"+conv.ID+"/messages", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "get messages")
	assertJSONStatus(t, rr, "ok")

	req = httptest.NewRequest("GET", "/conversations/c_missing/messages", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusNotFound, rr.Code, "missing conversation history")
}

func TestListConversationsHandler(t *testing.T) {
	server, st := newTestServer(&stubReasoner{reply: "ok"})
	mux := server.routes()

	_, _ = st.CreateConversation("patient-1")
	_, _ = st.CreateConversation("patient-1")

	req := httptest.NewRequest("GET", "/patients/patient-1/conversations", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "list conversations")
	var resp models.APIResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	list, ok := resp.Result.([]interface{})
	if !ok {
		t.Fatalf("Expected list result, got %T", resp.Result)
	}
	if len(list) != 2 {
		t.Errorf("Expected 2 conversations, got %d", len(list))
	}

	// Unknown patient yields an empty list, not an error.
	req = httptest.NewRequest("GET", "/patients/patient-9/conversations", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "empty list")
}

func TestClinicianResponseHandler(t *testing.T) {
	server, st := newTestServer(&stubReasoner{reply: "ok"})
	mux := server.routes()

	conv, _ := st.CreateConversation("patient-1")

	// Responding before handoff conflicts with the lifecycle.
	body := `{"clinician_id":"dr-house","diagnosis":"Migraine"}`
	req := createJSONRequest(t, "POST", "/conversations/"+conv.ID+"/clinician-response", body)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusConflict, rr.Code, "response before handoff")

	// Move the conversation to awaiting_clinician, then respond.
	final := models.Message{ID: "m_f", ConversationID: conv.ID, Role: models.MessageRoleAssistant, Content: "done", CreatedAt: time.Now()}
	if err := st.FinishTurn(conv.ID, final, &store.IntakeCompletion{Summary: "summary", CompletedAt: time.Now()}); err != nil {
		t.Fatalf("FinishTurn failed: %v", err)
	}

	req = createJSONRequest(t, "POST", "/conversations/"+conv.ID+"/clinician-response", body)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "clinician response")
	assertJSONStatus(t, rr, "ok")

	got, _ := st.GetConversation(conv.ID)
	if got.Status != models.StatusClinicianResponded {
		t.Errorf("Expected clinician_responded, got %s", got.Status)
	}

	// Missing clinician_id is a validation error.
	req = createJSONRequest(t, "POST", "/conversations/"+conv.ID+"/clinician-response", `{"diagnosis":"x"}`)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing clinician id")
}

func TestArchiveHandler(t *testing.T) {
	server, st := newTestServer(&stubReasoner{reply: "ok"})
	mux := server.routes()

	conv, _ := st.CreateConversation("patient-1")

	req := createJSONRequest(t, "POST", "/conversations/"+conv.ID+"/archive", `{"party":"patient","archived":true}`)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "archive")

	got, _ := st.GetConversation(conv.ID)
	if !got.PatientArchived {
		t.Error("Expected patient archived flag set")
	}

	req = createJSONRequest(t, "POST", "/conversations/"+conv.ID+"/archive", `{"party":"lawyer","archived":true}`)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid party")
}

func TestWriteErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("conversation c_1: %w", models.ErrConversationNotFound), http.StatusNotFound},
		{fmt.Errorf("conversation c_1: %w", models.ErrConversationAccessDenied), http.StatusForbidden},
		{fmt.Errorf("%w: timeout", models.ErrUpstreamService), http.StatusBadGateway},
		{fmt.Errorf("conversation c_1: %w", models.ErrInvalidStatusTransition), http.StatusConflict},
		{fmt.Errorf("%w: disk full", models.ErrPersistence), http.StatusInternalServerError},
		{models.ErrEmptyMessage, http.StatusBadRequest},
		{errors.New("clinician_id is required"), http.StatusBadRequest},
	}
	for _, c := range cases {
		rr := httptest.NewRecorder()
		writeError(rr, c.err)
		assertHTTPStatus(t, c.want, rr.Code, c.err.Error())
		assertJSONStatus(t, rr, "error")
	}
}

func TestHealthHandler(t *testing.T) {
	server, _ := newTestServer(&stubReasoner{reply: "ok"})
	mux := server.routes()

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	assertJSONStatus(t, rr, "ok")
}
