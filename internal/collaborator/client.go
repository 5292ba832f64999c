// Package collaborator holds HTTP clients for the patient, provider, billing
// and notification services. None of them retry; every call is bounded by the
// configured timeout.
package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hackgods/appointment-lifecycle/internal/config"
)

var (
	ErrNotFound    = errors.New("collaborator: resource not found")
	ErrUnavailable = errors.New("collaborator: service unavailable")
)

const maxErrorBody = 512

type client struct {
	name    string
	baseURL string
	http    *http.Client
}

func newClient(name, baseURL string, timeout time.Duration) client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c client) postJSON(ctx context.Context, path string, body any) error {
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.name, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s %s: %v", ErrUnavailable, c.name, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, c.name, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s %s returned %d: %s", ErrUnavailable, c.name, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrUnavailable, c.name, err)
	}
	return nil
}

// Clients bundles the four collaborators built from one configuration.
type Clients struct {
	Patients      *PatientClient
	Providers     *ProviderClient
	Billing       *BillingClient
	Notifications *NotificationClient
}

func NewClients(cfg config.Collaborators) Clients {
	return Clients{
		Patients:      NewPatientClient(cfg.PatientURL, cfg.Timeout),
		Providers:     NewProviderClient(cfg.DoctorURL, cfg.Timeout),
		Billing:       NewBillingClient(cfg.BillingURL, cfg.Timeout),
		Notifications: NewNotificationClient(cfg.NotificationURL, cfg.Timeout),
	}
}
