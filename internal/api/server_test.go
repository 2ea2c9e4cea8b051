package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
)

func newTestEngine(t *testing.T, required int) *multisig.Engine {
	t.Helper()
	return multisig.NewEngine(multisig.NewMemoryStore(), required, time.Hour)
}

func createProposal(t *testing.T, engine *multisig.Engine) multisig.Proposal {
	t.Helper()
	proposal, err := engine.Create(context.Background(), multisig.Intent{
		ProposedBy: "agent-2",
		Network:    "sepolia",
		Dex:        "uniswap_v2",
		TokenIn:    "WETH",
		TokenOut:   "USDC",
		Amount:     0.5,
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	return proposal
}

func TestHandleProposalsList(t *testing.T) {
	engine := newTestEngine(t, 2)
	server := NewServer(":0", engine, nil)
	created := createProposal(t, engine)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/proposals", nil)
	rec := httptest.NewRecorder()

	server.handleProposals(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got []multisig.Proposal
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("unexpected proposals: %+v", got)
	}
}

func TestHandleProposalsListEmpty(t *testing.T) {
	server := NewServer(":0", newTestEngine(t, 2), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/proposals", nil)
	rec := httptest.NewRecorder()

	server.handleProposals(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("expected empty array, got %q", body)
	}
}

func TestHandleSignSuccess(t *testing.T) {
	engine := newTestEngine(t, 2)
	server := NewServer(":0", engine, nil)
	created := createProposal(t, engine)

	body := `{"proposal_id":"` + created.ID + `","signer_id":"alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/proposals/sign", strings.NewReader(body))
	rec := httptest.NewRecorder()

	server.handleSign(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}
	var got multisig.Proposal
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.Signatures) != 1 || got.Signatures[0] != "alice" {
		t.Fatalf("unexpected signatures: %v", got.Signatures)
	}
	if got.State != multisig.StatePendingSignatures {
		t.Fatalf("unexpected state: %s", got.State)
	}
}

func TestHandleSignErrors(t *testing.T) {
	engine := newTestEngine(t, 2)
	server := NewServer(":0", engine, nil)
	created := createProposal(t, engine)

	sign := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/proposals/sign", strings.NewReader(body))
		rec := httptest.NewRecorder()
		server.handleSign(rec, req)
		return rec
	}

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/proposals/sign", nil)
		rec := httptest.NewRecorder()
		server.handleSign(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		if rec := sign(`{"proposal_id":""}`); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := sign(`{"proposal_id":"missing","signer_id":"alice"}`)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
		var payload map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode error payload: %v", err)
		}
		if payload["code"] != "PROPOSAL_NOT_FOUND" {
			t.Fatalf("unexpected error code: %q", payload["code"])
		}
	})

	t.Run("duplicate signer", func(t *testing.T) {
		if rec := sign(`{"proposal_id":"` + created.ID + `","signer_id":"bob"}`); rec.Code != http.StatusOK {
			t.Fatalf("first sign failed: %d", rec.Code)
		}
		rec := sign(`{"proposal_id":"` + created.ID + `","signer_id":"bob"}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected status %d, got %d", http.StatusConflict, rec.Code)
		}
	})
}

func TestHandleRejectThenSignConflicts(t *testing.T) {
	engine := newTestEngine(t, 2)
	server := NewServer(":0", engine, nil)
	created := createProposal(t, engine)

	body := `{"proposal_id":"` + created.ID + `","reason":"风险过高"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/proposals/reject", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.handleReject(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("reject failed: %d body %s", rec.Code, rec.Body.String())
	}
	var got multisig.Proposal
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.State != multisig.StateRejected || got.RejectReason != "风险过高" {
		t.Fatalf("unexpected proposal: %+v", got)
	}

	signBody := `{"proposal_id":"` + created.ID + `","signer_id":"alice"}`
	signReq := httptest.NewRequest(http.MethodPost, "/api/v1/proposals/sign", strings.NewReader(signBody))
	signRec := httptest.NewRecorder()
	server.handleSign(signRec, signReq)
	if signRec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, signRec.Code)
	}
}
