// Copyright (c) OpenMMLab. All rights reserved.

package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TextMessage is the webhook payload, the Feishu bot text format
type TextMessage struct {
	MsgType string `json:"msg_type"`
	Content struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Notifier posts text alerts to a webhook
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// NewNotifier creates a notifier for webhookURL
func NewNotifier(webhookURL string) (*Notifier, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("webhook address cannot be empty")
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Failure describes a run that stopped on a fatal error
type Failure struct {
	RunID string
	Query string
	Kind  string
	Err   error
	// Partitions lists the outputs that were open when the run stopped.
	Partitions []string
	Time       time.Time
}

// Text renders the alert body
func (f Failure) Text(prefix string) string {
	var msgBuffer bytes.Buffer
	msgBuffer.WriteString(fmt.Sprintf("【%s】\n", prefix))
	msgBuffer.WriteString(fmt.Sprintf("Run: %s\n", f.RunID))
	msgBuffer.WriteString(fmt.Sprintf("Query: %s\n", f.Query))
	msgBuffer.WriteString(fmt.Sprintf("Processing time: %s\n", f.Time.Format("2006-01-02 15:04:05")))
	msgBuffer.WriteString("--------------------\n")
	msgBuffer.WriteString("Status: Failed\n")
	if f.Kind != "" {
		msgBuffer.WriteString(fmt.Sprintf("Kind: %s\n", f.Kind))
	}
	msgBuffer.WriteString(fmt.Sprintf("Error message: %v\n", f.Err))
	if len(f.Partitions) > 0 {
		msgBuffer.WriteString(fmt.Sprintf("Open outputs: %d\n", len(f.Partitions)))
		for i, p := range f.Partitions {
			msgBuffer.WriteString(fmt.Sprintf("%d. %s\n", i+1, p))
		}
	}
	return msgBuffer.String()
}

// Send posts text as a text message. Any status other than 200 is an error.
func (n *Notifier) Send(ctx context.Context, text string) error {
	msg := TextMessage{MsgType: "text"}
	msg.Content.Text = text

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("message serialization failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(msgJSON))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("message sending failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned non-success status: %s", resp.Status)
	}
	return nil
}

// NotifyFailure sends f rendered under prefix
func (n *Notifier) NotifyFailure(ctx context.Context, prefix string, f Failure) error {
	if f.Time.IsZero() {
		f.Time = time.Now()
	}
	return n.Send(ctx, f.Text(prefix))
}
