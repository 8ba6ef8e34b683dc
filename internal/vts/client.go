// Package vts connects to VTube Studio's plugin API and triggers model
// hotkeys for avatar expressions.
package vts

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	apiName    = "VTubeStudioPublicAPI"
	apiVersion = "1.0"

	pluginName      = "Lumen Cohost"
	pluginDeveloper = "lumen-live"

	handshakeTimeout = 10 * time.Second
	requestTimeout   = 10 * time.Second
)

// ErrNotConnected is returned when a request is made before Connect succeeds.
var ErrNotConnected = errors.New("vts: not connected")

// ErrHotkeyNotFound is returned when the current model has no hotkey with the
// requested name.
var ErrHotkeyNotFound = errors.New("vts: hotkey not found in current model")

type request struct {
	APIName     string `json:"apiName"`
	APIVersion  string `json:"apiVersion"`
	RequestID   string `json:"requestID"`
	MessageType string `json:"messageType"`
	Data        any    `json:"data"`
}

type response struct {
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data"`
}

// Client is a VTube Studio plugin client. Requests are serialized under one
// mutex since the protocol is strict request/response over a single socket.
type Client struct {
	url       string
	tokenFile string
	ignored   map[string]struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	reqID   int
	hotkeys map[string]string
}

// NewClient creates a client for the VTube Studio API at url. Hotkeys whose
// names appear in ignored are left out of the hotkey table. tokenFile stores
// the plugin token between sessions.
func NewClient(url, tokenFile string, ignored []string) *Client {
	ig := make(map[string]struct{}, len(ignored))
	for _, name := range ignored {
		ig[name] = struct{}{}
	}
	return &Client{
		url:       url,
		tokenFile: tokenFile,
		ignored:   ig,
		hotkeys:   make(map[string]string),
	}
}

// Connect dials VTube Studio, completes the token exchange and loads the
// current model's hotkey table. Requesting a fresh token pops an allow/deny
// dialog in VTube Studio, so the stored token is reused whenever it is valid.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("vts: dial %s: %w", c.url, err)
	}
	c.conn = conn

	if err := c.authenticate(); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}
	if err := c.loadHotkeys(); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}
	slog.Info("vts.Client.Connect: ready", "url", c.url, "hotkeys", len(c.hotkeys))
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// HotkeyNames returns the loaded hotkey names, for exposing the expression
// catalog in prompts.
func (c *Client) HotkeyNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.hotkeys))
	for name := range c.hotkeys {
		names = append(names, name)
	}
	return names
}

// TriggerHotkey fires the named hotkey on the current model.
func (c *Client) TriggerHotkey(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	hotkeyID, ok := c.hotkeys[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrHotkeyNotFound, name)
	}
	_, err := c.roundTrip("HotkeyTriggerRequest", map[string]any{"hotkeyID": hotkeyID})
	if err != nil {
		return fmt.Errorf("vts: trigger %q: %w", name, err)
	}
	slog.Debug("vts.Client.TriggerHotkey: fired", "hotkey", name, "hotkey_id", hotkeyID)
	return nil
}

func (c *Client) authenticate() error {
	token, err := c.loadToken()
	if err != nil {
		return err
	}
	if token == "" {
		token, err = c.requestToken()
		if err != nil {
			return err
		}
		if err := os.WriteFile(c.tokenFile, []byte(token), 0o600); err != nil {
			slog.Warn("vts.Client.authenticate: token not persisted", "path", c.tokenFile, "error", err)
		}
	}

	data, err := c.roundTrip("AuthenticationRequest", map[string]any{
		"pluginName":          pluginName,
		"pluginDeveloper":     pluginDeveloper,
		"authenticationToken": token,
	})
	if err != nil {
		return fmt.Errorf("vts: authenticate: %w", err)
	}
	var auth struct {
		Authenticated bool   `json:"authenticated"`
		Reason        string `json:"reason"`
	}
	if err := json.Unmarshal(data, &auth); err != nil {
		return fmt.Errorf("vts: decode auth response: %w", err)
	}
	if !auth.Authenticated {
		// A stale token is the usual cause; drop it so the next connect
		// re-requests one.
		os.Remove(c.tokenFile)
		return fmt.Errorf("vts: authentication rejected: %s", auth.Reason)
	}
	return nil
}

func (c *Client) loadToken() (string, error) {
	raw, err := os.ReadFile(c.tokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("vts: read token file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *Client) requestToken() (string, error) {
	data, err := c.roundTrip("AuthenticationTokenRequest", map[string]any{
		"pluginName":      pluginName,
		"pluginDeveloper": pluginDeveloper,
	})
	if err != nil {
		return "", fmt.Errorf("vts: token request: %w", err)
	}
	var tok struct {
		AuthenticationToken string `json:"authenticationToken"`
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", fmt.Errorf("vts: decode token response: %w", err)
	}
	if tok.AuthenticationToken == "" {
		return "", errors.New("vts: token request denied; allow the plugin in VTube Studio")
	}
	return tok.AuthenticationToken, nil
}

func (c *Client) loadHotkeys() error {
	data, err := c.roundTrip("HotkeysInCurrentModelRequest", map[string]any{})
	if err != nil {
		return fmt.Errorf("vts: list hotkeys: %w", err)
	}
	var list struct {
		AvailableHotkeys []struct {
			Name     string `json:"name"`
			HotkeyID string `json:"hotkeyID"`
		} `json:"availableHotkeys"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("vts: decode hotkey list: %w", err)
	}
	c.hotkeys = make(map[string]string, len(list.AvailableHotkeys))
	for _, hk := range list.AvailableHotkeys {
		if _, skip := c.ignored[hk.Name]; skip {
			continue
		}
		c.hotkeys[hk.Name] = hk.HotkeyID
	}
	if len(c.hotkeys) == 0 {
		slog.Warn("vts.Client.loadHotkeys: no hotkeys available; is a model with expressions loaded?")
	}
	return nil
}

// roundTrip sends one request and reads its response. Callers hold c.mu.
func (c *Client) roundTrip(messageType string, data any) (json.RawMessage, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	c.reqID++
	req := request{
		APIName:     apiName,
		APIVersion:  apiVersion,
		RequestID:   "req_" + strconv.Itoa(c.reqID),
		MessageType: messageType,
		Data:        data,
	}
	c.conn.SetWriteDeadline(time.Now().Add(requestTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, err
	}
	c.conn.SetReadDeadline(time.Now().Add(requestTimeout))
	var resp response
	if err := c.conn.ReadJSON(&resp); err != nil {
		return nil, err
	}
	if resp.MessageType == "APIError" {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(resp.Data, &apiErr)
		return nil, fmt.Errorf("api error: %s", apiErr.Message)
	}
	return resp.Data, nil
}
