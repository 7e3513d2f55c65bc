package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRosterClient_FetchUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getUserRooms/DedicatedRoom_1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"tagPlyer":"a1","fullname":"Ana","powerForce":3},{"tagPlyer":"b2","fullname":"Bia"}]`))
	}))
	defer srv.Close()

	c := NewRosterClient(srv.URL+"/", time.Second)
	users, err := c.FetchUsers(context.Background(), "DedicatedRoom_1")
	if err != nil {
		t.Fatalf("FetchUsers: %v", err)
	}
	if len(users) != 2 || users[0].Tag != "a1" || users[0].PowerForce != 3 || users[1].FullName != "Bia" {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestRosterClient_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "room not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewRosterClient(srv.URL, time.Second).FetchUsers(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestRosterClient_EmptyRoom(t *testing.T) {
	if _, err := NewRosterClient("http://example.invalid", 0).FetchUsers(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty room id")
	}
}
