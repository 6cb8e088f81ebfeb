package models

import (
	"strings"
	"testing"
	"time"
)

func TestSubmitTurnRequestValidate(t *testing.T) {
	req := SubmitTurnRequest{PatientID: "patient-1", Text: "I have a headache"}
	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}

	req = SubmitTurnRequest{Text: "hello"}
	if err := req.Validate(); err != ErrEmptyPatientID {
		t.Errorf("expected ErrEmptyPatientID, got %v", err)
	}

	req = SubmitTurnRequest{PatientID: "patient-1"}
	if err := req.Validate(); err != ErrEmptyMessage {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}

	req = SubmitTurnRequest{PatientID: "patient-1", Text: strings.Repeat("a", MaxMessageLength+1)}
	if err := req.Validate(); err != ErrMessageTooLong {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    ConversationStatus
		to      ConversationStatus
		allowed bool
	}{
		{StatusInProgress, StatusAwaitingClinician, true},
		{StatusAwaitingClinician, StatusClinicianResponded, true},
		{StatusInProgress, StatusClinicianResponded, false},
		{StatusAwaitingClinician, StatusInProgress, false},
		{StatusClinicianResponded, StatusAwaitingClinician, false},
		{StatusClinicianResponded, StatusInProgress, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.allowed {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", c.from, c.to, got, c.allowed)
		}
	}
}

func TestPatientTurnCount(t *testing.T) {
	now := time.Now()
	msgs := []Message{
		{Role: MessageRolePatient, Content: "hi", CreatedAt: now},
		{Role: MessageRoleAssistant, Content: "hello", CreatedAt: now},
		{Role: MessageRolePatient, Content: "my back hurts", CreatedAt: now},
		// Consecutive same-role entries (retried turn) must still count correctly.
		{Role: MessageRolePatient, Content: "my back hurts", CreatedAt: now},
		{Role: MessageRoleAssistant, Content: "where exactly?", CreatedAt: now},
	}
	if got := PatientTurnCount(msgs); got != 3 {
		t.Errorf("PatientTurnCount = %d, want 3", got)
	}
	if got := PatientTurnCount(nil); got != 0 {
		t.Errorf("PatientTurnCount(nil) = %d, want 0", got)
	}
}

func TestClinicianResponseRequestValidate(t *testing.T) {
	req := ClinicianResponseRequest{ClinicianID: "doc-1", Diagnosis: "tension headache"}
	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}

	req = ClinicianResponseRequest{Diagnosis: "tension headache"}
	if err := req.Validate(); err == nil {
		t.Error("expected error for missing clinician_id")
	}

	req = ClinicianResponseRequest{ClinicianID: "doc-1"}
	if err := req.Validate(); err == nil {
		t.Error("expected error for empty clinician response")
	}
}

func TestArchiveRequestValidate(t *testing.T) {
	req := ArchiveRequest{Party: ArchivePartyPatient, Archived: true}
	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}
	req = ArchiveRequest{Party: "billing"}
	if err := req.Validate(); err != ErrInvalidArchiveParty {
		t.Errorf("expected ErrInvalidArchiveParty, got %v", err)
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	resp := Success(map[string]int{"n": 1})
	if resp.Status != string(APIStatusOK) {
		t.Errorf("expected ok status, got %s", resp.Status)
	}
	resp = Error("boom")
	if resp.Status != string(APIStatusError) || resp.Message != "boom" {
		t.Errorf("unexpected error response: %+v", resp)
	}
	resp = SuccessWithMessage("done", nil)
	if resp.Status != string(APIStatusOK) || resp.Message != "done" {
		t.Errorf("unexpected success response: %+v", resp)
	}
}
