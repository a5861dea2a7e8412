package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medplane/medplane/internal/pkg/medical"
)

//Config to set up the clinical system HTTP adapter. Each base URL points at
//one upstream system's REST endpoint.
type Config struct {
	HISBaseURL  string        `yaml:"hisbaseurl"`
	EMRBaseURL  string        `yaml:"emrbaseurl"`
	LISBaseURL  string        `yaml:"lisbaseurl"`
	PACSBaseURL string        `yaml:"pacsbaseurl"`
	Timeout     time.Duration `yaml:"timeout"`
}

//Client talks to the upstream clinical systems over HTTP
type Client struct {
	cfg  *Config
	http *http.Client
}

//NewClient creates a new clinical system HTTP adapter
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

//GetPatientInfo fetches demographic data from the HIS
func (c *Client) GetPatientInfo(ctx context.Context, patientID string) (*medical.PatientInfo, error) {
	var info medical.PatientInfo
	u := fmt.Sprintf("%s/patients/%s", c.cfg.HISBaseURL, url.PathEscape(patientID))
	if err := c.getJSON(ctx, "his", u, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

//GetMedicalRecords fetches medical record entries from the EMR
func (c *Client) GetMedicalRecords(ctx context.Context, patientID string, since time.Time) ([]medical.ClinicalRecord, error) {
	u := fmt.Sprintf("%s/patients/%s/records", c.cfg.EMRBaseURL, url.PathEscape(patientID))
	if !since.IsZero() {
		u += "?since=" + url.QueryEscape(since.Format(time.RFC3339))
	}
	var records []medical.ClinicalRecord
	if err := c.getJSON(ctx, "emr", u, &records); err != nil {
		return nil, err
	}
	return records, nil
}

//GetLabResults fetches laboratory results from the LIS
func (c *Client) GetLabResults(ctx context.Context, patientID string, testTypes []string) ([]medical.LabResult, error) {
	u := fmt.Sprintf("%s/patients/%s/labs", c.cfg.LISBaseURL, url.PathEscape(patientID))
	if len(testTypes) > 0 {
		u += "?types=" + url.QueryEscape(strings.Join(testTypes, ","))
	}
	var results []medical.LabResult
	if err := c.getJSON(ctx, "lis", u, &results); err != nil {
		return nil, err
	}
	return results, nil
}

//GetImagingStudies fetches imaging study references from the PACS
func (c *Client) GetImagingStudies(ctx context.Context, patientID string, modality medical.Modality) ([]medical.ImagingStudy, error) {
	u := fmt.Sprintf("%s/patients/%s/studies", c.cfg.PACSBaseURL, url.PathEscape(patientID))
	if modality != "" {
		u += "?modality=" + url.QueryEscape(string(modality))
	}
	var studies []medical.ImagingStudy
	if err := c.getJSON(ctx, "pacs", u, &studies); err != nil {
		return nil, err
	}
	return studies, nil
}

//Close cleans up pooled connections
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) getJSON(ctx context.Context, system, rawurl string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return &medical.UpstreamError{System: system, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &medical.TimeoutError{Op: system + " call", Err: err}
		}
		return &medical.UpstreamError{System: system, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &medical.NotFoundError{Kind: system + " resource", ID: rawurl}
	case resp.StatusCode != http.StatusOK:
		return &medical.UpstreamError{System: system, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &medical.UpstreamError{System: system, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
