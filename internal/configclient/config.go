// Package configclient wraps the two HTTP collaborators the engine talks
// to: the host/group metadata service and the AMT redirection daemon.
// Grounded on the original implementation's clients/config.py and
// clients/amtredird.py.
package configclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ConfigError is the dedicated error kind spec §7 requires: it carries the
// server-supplied message rather than being folded into a generic HTTP
// error, so callers can distinguish "the service rejected this" from
// "the service was unreachable".
type ConfigError struct {
	Entity  string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config service error for %s: %s", e.Entity, e.Message)
}

// HostInfo is the JSON shape returned for a host entity.
type HostInfo struct {
	Name  string            `json:"name"`
	SName string            `json:"sname"`
	Props map[string]string `json:"props"`
}

// GroupInfo is the JSON shape returned for a group entity.
type GroupInfo struct {
	Name  string   `json:"name"`
	Hosts []string `json:"hosts"`
}

// Client talks to the config HTTP service at BaseURL.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a Client using http.DefaultClient if hc is nil.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, HTTP: hc}
}

// GetHost resolves a single host by name.
func (c *Client) GetHost(ctx context.Context, name string) (HostInfo, error) {
	var info HostInfo
	if err := c.get(ctx, name, &info); err != nil {
		return HostInfo{}, err
	}
	return info, nil
}

// GetGroup resolves a group into its member host names.
func (c *Client) GetGroup(ctx context.Context, name string) (GroupInfo, error) {
	var info GroupInfo
	if err := c.get(ctx, name, &info); err != nil {
		return GroupInfo{}, err
	}
	return info, nil
}

// SetProps sets properties on entity via a urlencoded POST body.
func (c *Client) SetProps(ctx context.Context, entity string, props map[string]string) error {
	form := url.Values{}
	for k, v := range props {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.entityURL(entity), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &ConfigError{Entity: entity, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &ConfigError{Entity: entity, Message: resp.Status}
	}
	return nil
}

func (c *Client) get(ctx context.Context, entity string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.entityURL(entity), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &ConfigError{Entity: entity, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &ConfigError{Entity: entity, Message: resp.Status}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ConfigError{Entity: entity, Message: err.Error()}
	}
	return nil
}

func (c *Client) entityURL(entity string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.BaseURL, "/"), entity)
}
