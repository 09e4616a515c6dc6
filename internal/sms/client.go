// Package sms sends text messages through the configured SMS gateway.
// A nil client is valid and drops messages silently, so callers do not need
// to guard every send with a configuration check.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/config"
	"fieldserve_backend/platform/logger"
	"fieldserve_backend/platform/phone"
)

// Sender delivers a text message and returns the gateway message ID.
type Sender interface {
	Send(ctx context.Context, phoneNumber string, message string) (string, error)
}

type Client struct {
	baseURL  string
	apiKey   string
	senderID string
	http     *http.Client
	log      *logger.Logger
}

type gatewayRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

type gatewayResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// NewClient creates an SMS gateway client, or nil when no gateway URL is
// configured.
func NewClient(cfg config.SMSConfig, log *logger.Logger) *Client {
	if cfg.GetSMSGatewayURL() == "" {
		return nil
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.GetSMSGatewayURL(), "/"),
		apiKey:   cfg.GetSMSGatewayKey(),
		senderID: cfg.GetSMSSenderID(),
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// Send delivers one message to a single recipient. The phone number is
// normalized to E.164 before hitting the gateway.
func (c *Client) Send(ctx context.Context, phoneNumber string, message string) (string, error) {
	if c == nil {
		return "", nil
	}

	normalized := phone.NormalizeE164(phoneNumber)

	payload := gatewayRequest{
		To:      normalized,
		From:    c.senderID,
		Message: message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal sms payload: %w", err)
	}

	url := fmt.Sprintf("%s/v1/messages", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.ExternalCall("sms_gateway", "send", float64(time.Since(start).Milliseconds()), err)
		return "", apperr.Wrap(apperr.KindTransient, "sms gateway unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	c.log.ExternalCall("sms_gateway", "send", float64(time.Since(start).Milliseconds()), nil)

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return "", apperr.Transient(fmt.Sprintf("sms gateway returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(data))))
	}

	var parsed gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "decode sms gateway response", err)
	}

	c.log.Info("sms sent", "to", normalized, "messageId", parsed.MessageID)
	return parsed.MessageID, nil
}
