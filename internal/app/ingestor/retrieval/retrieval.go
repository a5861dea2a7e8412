package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medplane/medplane/internal/app/ingestor/dataplane"
	"github.com/medplane/medplane/internal/app/ingestor/index"
	"github.com/medplane/medplane/internal/pkg/medical"
)

//Index is the slice of the metadata index the engine reads from
type Index interface {
	Get(id string) (medical.MetadataRecord, error)
	QueryByPatient(patientID string) []medical.MetadataRecord
	QueryByStudy(studyID string) []medical.MetadataRecord
	QueryText(terms string, limit int) []medical.MetadataRecord
	QueryStructured(f index.Filter) []medical.MetadataRecord
}

//View groups records for one patient or study by modality category
type View struct {
	Images    []medical.MetadataRecord `json:"images"`
	Documents []medical.MetadataRecord `json:"documents"`
	Records   []medical.MetadataRecord `json:"records"`
}

//IntegratedView merges the indexed view with externally sourced clinical
//data. A section whose upstream source failed is left empty and the failure
//is recorded in Warnings.
type IntegratedView struct {
	View
	PatientInfo     *medical.PatientInfo     `json:"patientInfo,omitempty"`
	ClinicalRecords []medical.ClinicalRecord `json:"clinicalRecords,omitempty"`
	LabResults      []medical.LabResult      `json:"labResults,omitempty"`
	ImagingStudies  []medical.ImagingStudy   `json:"imagingStudies,omitempty"`
	Warnings        []string                 `json:"warnings,omitempty"`
}

//Engine answers point lookups and cross-modal queries against the metadata
//index. Query results carry metadata only; artifact bytes are fetched
//lazily via FetchArtifact.
type Engine struct {
	idx          Index
	blobs        dataplane.BlobProvider
	clinical     dataplane.ClinicalProvider
	defaultLimit int
}

//NewEngine creates a retrieval engine
func NewEngine(idx Index, blobs dataplane.BlobProvider, clinical dataplane.ClinicalProvider, defaultLimit int) *Engine {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &Engine{idx: idx, blobs: blobs, clinical: clinical, defaultLimit: defaultLimit}
}

//ByPatient returns all indexed records for a patient grouped by modality
//category
func (e *Engine) ByPatient(patientID string) View {
	return group(e.idx.QueryByPatient(patientID))
}

//ByStudy returns all indexed records for a study grouped by modality
//category
func (e *Engine) ByStudy(studyID string) View {
	return group(e.idx.QueryByStudy(studyID))
}

//SearchText runs a ranked free-text query, applying the default result limit
//when the caller passes none
func (e *Engine) SearchText(terms string, limit int) []medical.MetadataRecord {
	if limit <= 0 {
		limit = e.defaultLimit
	}
	return e.idx.QueryText(terms, limit)
}

//Search runs a conjunctive structured query
func (e *Engine) Search(f index.Filter) []medical.MetadataRecord {
	return e.idx.QueryStructured(f)
}

//FetchArtifact dereferences the artifact bytes behind a record
func (e *Engine) FetchArtifact(ctx context.Context, recordID string) ([]byte, error) {
	record, err := e.idx.Get(recordID)
	if err != nil {
		return nil, err
	}
	if record.ContentRef == "" {
		return nil, &medical.NotFoundError{Kind: "artifact", ID: recordID}
	}
	return e.blobs.Get(ctx, record.ContentRef)
}

//Integrate merges the indexed patient view with data from the external
//clinical systems, fetched concurrently. A failure to reach one source
//degrades that section to empty with a recorded warning; it never fails the
//whole call.
func (e *Engine) Integrate(ctx context.Context, patientID string) IntegratedView {
	view := IntegratedView{View: e.ByPatient(patientID)}

	var mu sync.Mutex
	warn := func(system string, err error) {
		mu.Lock()
		view.Warnings = append(view.Warnings, fmt.Sprintf("%s: %v", system, err))
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		info, err := e.clinical.GetPatientInfo(ctx, patientID)
		if err != nil {
			if !medical.IsNotFound(err) {
				warn("his", err)
			}
			return nil
		}
		mu.Lock()
		view.PatientInfo = info
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		records, err := e.clinical.GetMedicalRecords(ctx, patientID, time.Time{})
		if err != nil {
			if !medical.IsNotFound(err) {
				warn("emr", err)
			}
			return nil
		}
		mu.Lock()
		view.ClinicalRecords = records
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		labs, err := e.clinical.GetLabResults(ctx, patientID, nil)
		if err != nil {
			if !medical.IsNotFound(err) {
				warn("lis", err)
			}
			return nil
		}
		mu.Lock()
		view.LabResults = labs
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		studies, err := e.clinical.GetImagingStudies(ctx, patientID, "")
		if err != nil {
			if !medical.IsNotFound(err) {
				warn("pacs", err)
			}
			return nil
		}
		mu.Lock()
		view.ImagingStudies = studies
		mu.Unlock()
		return nil
	})
	_ = g.Wait()
	return view
}

func group(records []medical.MetadataRecord) View {
	var v View
	for _, r := range records {
		switch r.Modality.Category() {
		case medical.CategoryDocument:
			v.Documents = append(v.Documents, r)
		case medical.CategoryRecord:
			v.Records = append(v.Records, r)
		default:
			v.Images = append(v.Images, r)
		}
	}
	return v
}
