package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// requestTimeout bounds each API call.
const requestTimeout = 5 * time.Second

// apiClient is a thin JSON client for the daemon's HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// statusInfo mirrors the daemon's /api/v1/status response.
type statusInfo struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Players       int    `json:"players"`
	Sessions      int    `json:"sessions"`
}

// playerInfo mirrors one entry of the daemon's /api/v1/players response.
type playerInfo struct {
	PlayerID    string `json:"player_id"`
	SceneID     string `json:"scene_id"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// Status fetches the daemon status.
func (c *apiClient) Status(ctx context.Context) (*statusInfo, error) {
	var out statusInfo
	if err := c.getJSON(ctx, "/api/v1/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Players fetches the current player roster.
func (c *apiClient) Players(ctx context.Context) ([]playerInfo, error) {
	var out struct {
		Players []playerInfo `json:"players"`
	}
	if err := c.getJSON(ctx, "/api/v1/players", &out); err != nil {
		return nil, err
	}
	return out.Players, nil
}

// getJSON performs a GET and decodes the JSON body into out.
func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
