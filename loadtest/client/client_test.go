package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPost_SendsIdentityAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User") != "ana" {
			t.Errorf("User header = %q", r.Header.Get("User"))
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Message{ID: "m1", From: "ana", To: body["to"], Text: body["text"], Type: body["type"]})
	}))
	defer srv.Close()

	c := New(srv.URL, "ana")
	m, err := c.Post(context.Background(), Broadcast, "hi", KindMessage)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if m.ID != "m1" || m.To != Broadcast || m.Text != "hi" {
		t.Fatalf("unexpected message %+v", m)
	}
	if got := c.GetMetrics().Posts; got != 1 {
		t.Fatalf("Posts = %d, want 1", got)
	}
}

func TestDo_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"conflict","message":"name is already taken"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "ana").Join(context.Background())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("want *StatusError, got %v", err)
	}
	if se.Status != http.StatusConflict || se.Code != "conflict" {
		t.Fatalf("unexpected error %+v", se)
	}
}
