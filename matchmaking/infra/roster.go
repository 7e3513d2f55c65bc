package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RosterUser é um usuário devolvido pela API de salas.
type RosterUser struct {
	Tag        string `json:"tagPlyer"`
	FullName   string `json:"fullname"`
	PowerForce int    `json:"powerForce"`
	ExactRatio int    `json:"exactRatio"`
	Score      int    `json:"score"`
}

// RosterClient consulta GET {base}/getUserRooms/{roomID}.
type RosterClient struct {
	base string
	http *http.Client
}

func NewRosterClient(baseURL string, timeout time.Duration) *RosterClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RosterClient{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *RosterClient) FetchUsers(ctx context.Context, roomID string) ([]RosterUser, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, fmt.Errorf("roster: empty room id")
	}
	endpoint := c.base + "/getUserRooms/" + url.PathEscape(roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("roster: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster: get %s: %w", roomID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("roster: get %s: status %d: %s", roomID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var users []RosterUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&users); err != nil {
		return nil, fmt.Errorf("roster: decode %s: %w", roomID, err)
	}
	return users, nil
}
