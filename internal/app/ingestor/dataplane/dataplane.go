package dataplane

import (
	"context"
	"time"

	"github.com/medplane/medplane/internal/pkg/medical"
)

//BlobProvider stores immutable binary artifacts keyed by an opaque reference.
//Implementations must honour the context deadline on every call and surface
//expiry as a medical.TimeoutError.
type BlobProvider interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
	Close()
}

//ClinicalProvider reaches the external clinical systems (HIS/EMR/LIS/PACS)
//and returns structured patient data
type ClinicalProvider interface {
	GetPatientInfo(ctx context.Context, patientID string) (*medical.PatientInfo, error)
	GetMedicalRecords(ctx context.Context, patientID string, since time.Time) ([]medical.ClinicalRecord, error)
	GetLabResults(ctx context.Context, patientID string, testTypes []string) ([]medical.LabResult, error)
	GetImagingStudies(ctx context.Context, patientID string, modality medical.Modality) ([]medical.ImagingStudy, error)
	Close()
}

//DataPlane aggregates the external providers used by the ingestor
type DataPlane struct {
	BlobProvider
	ClinicalProvider
}

//Close cleans up the data plane providers
func (d *DataPlane) Close() {
	defer d.BlobProvider.Close()
	defer d.ClinicalProvider.Close()
}
