package configclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// AmtredirdError wraps an {"error": "..."} response body, mirroring the
// original AmtredirdError.
type AmtredirdError struct {
	Message string
}

func (e *AmtredirdError) Error() string { return e.Message }

// AmtredirdClient talks to the amtredird HTTP surface (spec §6): list the
// AMT hosts with a redirection session, and start/stop redirection for a
// batch of clients.
type AmtredirdClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewAmtredirdClient returns a client using http.DefaultClient if hc is nil.
func NewAmtredirdClient(baseURL string, hc *http.Client) *AmtredirdClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &AmtredirdClient{BaseURL: baseURL, HTTP: hc}
}

// List returns the AMT hosts currently redirected.
func (c *AmtredirdClient) List(ctx context.Context) ([]string, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, "list", "", &raw); err != nil {
		return nil, err
	}
	if len(raw) != 2 {
		return nil, &AmtredirdError{Message: fmt.Sprintf("expected a 2-element response, got %d", len(raw))}
	}
	var status int
	if err := json.Unmarshal(raw[0], &status); err != nil || status != 0 {
		return nil, &AmtredirdError{Message: "unexpected list status"}
	}
	var hosts []string
	if err := json.Unmarshal(raw[1], &hosts); err != nil {
		return nil, &AmtredirdError{Message: err.Error()}
	}
	return hosts, nil
}

// ClientOutcome is one entry of the {client: [rv, args]} response map.
type ClientOutcome struct {
	ReturnValue int
	Args        json.RawMessage
}

// Start begins redirection for clients. The response length is checked
// against the request length: per spec §7, an inconsistent response is a
// bug in the server, not a per-host failure, so a mismatch returns an
// *AmtredirdError rather than silently mis-attributing results.
func (c *AmtredirdClient) Start(ctx context.Context, clients []string) (map[string]ClientOutcome, error) {
	return c.post(ctx, "start", clients)
}

// Stop ends redirection for clients.
func (c *AmtredirdClient) Stop(ctx context.Context, clients []string) (map[string]ClientOutcome, error) {
	return c.post(ctx, "stop", clients)
}

func (c *AmtredirdClient) post(ctx context.Context, cmd string, clients []string) (map[string]ClientOutcome, error) {
	form := url.Values{}
	for _, cl := range clients {
		form.Add(cl, cl)
	}

	var raw map[string]json.RawMessage
	if err := c.do(ctx, cmd, form.Encode(), &raw); err != nil {
		return nil, err
	}
	if len(raw) != len(clients) {
		return nil, &AmtredirdError{Message: fmt.Sprintf("amtredird %s: response length %d != request length %d", cmd, len(raw), len(clients))}
	}

	out := make(map[string]ClientOutcome, len(raw))
	for client, v := range raw {
		var pair []json.RawMessage
		if err := json.Unmarshal(v, &pair); err != nil || len(pair) != 2 {
			return nil, &AmtredirdError{Message: fmt.Sprintf("malformed outcome for %s", client)}
		}
		var rv int
		if err := json.Unmarshal(pair[0], &rv); err != nil {
			return nil, &AmtredirdError{Message: err.Error()}
		}
		out[client] = ClientOutcome{ReturnValue: rv, Args: pair[1]}
	}
	return out, nil
}

func (c *AmtredirdClient) do(ctx context.Context, cmd, body string, out any) error {
	var req *http.Request
	var err error
	u := fmt.Sprintf("%s/%s", strings.TrimRight(c.BaseURL, "/"), cmd)
	if body != "" {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}
	if err != nil {
		return err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &AmtredirdError{Message: err.Error()}
	}
	defer resp.Body.Close()

	var withError struct {
		Error string `json:"error"`
	}
	body2, err := decodeBoth(resp, out, &withError)
	if err != nil {
		return &AmtredirdError{Message: err.Error()}
	}
	if body2 {
		return &AmtredirdError{Message: withError.Error}
	}
	return nil
}

// decodeBoth decodes the response body once, detecting an {"error": "..."}
// shape before falling back to the caller's expected out shape (list's
// 2-tuple, or the per-client map).
func decodeBoth(resp *http.Response, out any, errShape *struct {
	Error string `json:"error"`
}) (bool, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return false, err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil {
		if msg, ok := probe["error"]; ok {
			_ = json.Unmarshal(msg, &errShape.Error)
			return true, nil
		}
	}
	return false, json.Unmarshal(raw, out)
}
