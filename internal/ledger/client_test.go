package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tokenfolio/internal/domain"
)

func TestHTTPClient_FetchPage(t *testing.T) {
	var gotVars map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotVars = req.Variables

		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"transferEvents": []eventJSON{
					{ID: "2", Timestamp: 1700000100, From: "0x0", To: "0xAAA", Amount: "500", Kind: "DEPOSIT", Token: "0xVault"},
					{ID: "1", Timestamp: 1700000000, From: "0x0", To: "0xAAA", Amount: "250", Kind: "SWAP_DEPOSIT", Token: "0xVault"},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	events, err := client.FetchPage(context.Background(), Query{
		Counterparty: "0xAAA",
		Side:         domain.SideReceiver,
		Kinds:        domain.DepositKinds,
		PageSize:     2,
	}, "cursor-3")
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID != "2" || events[0].To != "0xaaa" || events[0].Kind != domain.KindDeposit {
		t.Errorf("unexpected first event: %+v", events[0])
	}

	where, _ := gotVars["where"].(map[string]interface{})
	if where["to"] != "0xaaa" {
		t.Errorf("where.to = %v, want normalized counterparty", where["to"])
	}
	if gotVars["before"] != "cursor-3" {
		t.Errorf("before = %v, want cursor-3", gotVars["before"])
	}
	if gotVars["first"] != float64(2) {
		t.Errorf("first = %v, want 2", gotVars["first"])
	}
}

func TestHTTPClient_GraphQLErrorIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]string{{"message": "field `kind_in` unknown"}},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	if _, err := client.FetchPage(context.Background(), Query{Side: domain.SideSender}, ""); err == nil {
		t.Fatal("expected error for GraphQL errors payload")
	}
}

func TestHTTPClient_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"transferEvents": []eventJSON{}},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(time.Millisecond),
	)

	events, err := client.FetchPage(context.Background(), Query{Side: domain.SideReceiver}, "")
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestHTTPClient_MalformedPayloadIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(0))
	if _, err := client.FetchPage(context.Background(), Query{Side: domain.SideReceiver}, ""); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
