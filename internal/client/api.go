package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"syncrelay/internal/constants"
	"syncrelay/internal/protocol"
	"syncrelay/internal/transport"
)

// CreateSession asks the relay behind relayURL for a new session. relayURL
// may be the websocket URL the peer connects to.
func CreateSession(ctx context.Context, relayURL string, req protocol.CreateSessionRequest, skipTLSVerify bool) (*protocol.CreateSessionResponse, error) {
	base, err := transport.HTTPBase(relayURL)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: constants.WriteTimeout}
	if skipTLSVerify {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+constants.EndpointSessions, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var e protocol.ErrorData
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("relay returned status %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("relay returned status %d: %s", resp.StatusCode, string(bytes.TrimSpace(data)))
	}

	var result protocol.CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &result, nil
}
