package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/medplane/medplane/internal/pkg/medical"
)

//Provider returns canned clinical data. Used in development mode when no
//upstream endpoints are configured, and by tests.
type Provider struct {
	mu       sync.RWMutex
	patients map[string]medical.PatientInfo
	records  map[string][]medical.ClinicalRecord
	labs     map[string][]medical.LabResult
	studies  map[string][]medical.ImagingStudy
	failing  map[string]bool
}

//NewProvider creates an empty mock clinical provider
func NewProvider() *Provider {
	return &Provider{
		patients: make(map[string]medical.PatientInfo),
		records:  make(map[string][]medical.ClinicalRecord),
		labs:     make(map[string][]medical.LabResult),
		studies:  make(map[string][]medical.ImagingStudy),
		failing:  make(map[string]bool),
	}
}

//AddPatient registers canned demographic data
func (p *Provider) AddPatient(info medical.PatientInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.patients[info.ID] = info
}

//AddRecords registers canned EMR entries for a patient
func (p *Provider) AddRecords(patientID string, records ...medical.ClinicalRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[patientID] = append(p.records[patientID], records...)
}

//AddLabResults registers canned LIS entries for a patient
func (p *Provider) AddLabResults(patientID string, results ...medical.LabResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.labs[patientID] = append(p.labs[patientID], results...)
}

//AddImagingStudies registers canned PACS entries for a patient
func (p *Provider) AddImagingStudies(patientID string, studies ...medical.ImagingStudy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.studies[patientID] = append(p.studies[patientID], studies...)
}

//FailSystem forces one upstream system (his, emr, lis, pacs) to return an
//UpstreamError on every call
func (p *Provider) FailSystem(system string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[system] = true
}

func (p *Provider) failure(system string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.failing[system] {
		return &medical.UpstreamError{System: system, Err: errors.New("forced failure")}
	}
	return nil
}

//GetPatientInfo returns the canned demographic data for a patient
func (p *Provider) GetPatientInfo(ctx context.Context, patientID string) (*medical.PatientInfo, error) {
	if err := p.failure("his"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	info, ok := p.patients[patientID]
	p.mu.RUnlock()
	if !ok {
		return nil, &medical.NotFoundError{Kind: "patient", ID: patientID}
	}
	return &info, nil
}

//GetMedicalRecords returns the canned EMR entries recorded at or after since
func (p *Provider) GetMedicalRecords(ctx context.Context, patientID string, since time.Time) ([]medical.ClinicalRecord, error) {
	if err := p.failure("emr"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []medical.ClinicalRecord
	for _, r := range p.records[patientID] {
		if since.IsZero() || !r.RecordedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

//GetLabResults returns the canned LIS entries, filtered by test type when
//testTypes is non-empty
func (p *Provider) GetLabResults(ctx context.Context, patientID string, testTypes []string) ([]medical.LabResult, error) {
	if err := p.failure("lis"); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(testTypes))
	for _, t := range testTypes {
		wanted[t] = struct{}{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []medical.LabResult
	for _, r := range p.labs[patientID] {
		if len(wanted) > 0 {
			if _, ok := wanted[r.TestType]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

//GetImagingStudies returns the canned PACS entries, filtered by modality when
//modality is non-empty
func (p *Provider) GetImagingStudies(ctx context.Context, patientID string, modality medical.Modality) ([]medical.ImagingStudy, error) {
	if err := p.failure("pacs"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []medical.ImagingStudy
	for _, s := range p.studies[patientID] {
		if modality != "" && s.Modality != modality {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

//Close cleans up any external resources
func (p *Provider) Close() {
}
