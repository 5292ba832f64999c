package collaborator

import (
	"context"
	"fmt"
	"time"
)

type Patient struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type Provider struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty,omitempty"`
}

type PatientClient struct {
	c client
}

func NewPatientClient(baseURL string, timeout time.Duration) *PatientClient {
	return &PatientClient{c: newClient("patient-service", baseURL, timeout)}
}

// GetPatient returns ErrNotFound on 404 and ErrUnavailable for any other failure.
func (p *PatientClient) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	var out Patient
	if err := p.c.getJSON(ctx, fmt.Sprintf("/patients/%d", id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type ProviderClient struct {
	c client
}

func NewProviderClient(baseURL string, timeout time.Duration) *ProviderClient {
	return &ProviderClient{c: newClient("doctor-service", baseURL, timeout)}
}

func (p *ProviderClient) GetProvider(ctx context.Context, id int64) (*Provider, error) {
	var out Provider
	if err := p.c.getJSON(ctx, fmt.Sprintf("/doctors/%d", id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
