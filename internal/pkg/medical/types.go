package medical

import "time"

//Modality categorises a medical data item
type Modality string

const (
	ModalityHistology  Modality = "histology"
	ModalityCT         Modality = "ct"
	ModalityMRI        Modality = "mri"
	ModalityXray       Modality = "xray"
	ModalityUltrasound Modality = "ultrasound"
	ModalityText       Modality = "text"
	ModalityLabResult  Modality = "lab_result"
	ModalityTimeSeries Modality = "time_series"
)

//Category is the coarse grouping used when assembling patient views
type Category string

const (
	//CategoryImage covers all imaging modalities
	CategoryImage Category = "image"
	//CategoryDocument covers free-text documents
	CategoryDocument Category = "document"
	//CategoryRecord covers structured records and time-series
	CategoryRecord Category = "record"
)

//Valid reports whether the modality is a known value
func (m Modality) Valid() bool {
	switch m {
	case ModalityHistology, ModalityCT, ModalityMRI, ModalityXray,
		ModalityUltrasound, ModalityText, ModalityLabResult, ModalityTimeSeries:
		return true
	}
	return false
}

//Category returns the coarse grouping for the modality
func (m Modality) Category() Category {
	switch m {
	case ModalityText:
		return CategoryDocument
	case ModalityLabResult, ModalityTimeSeries:
		return CategoryRecord
	default:
		return CategoryImage
	}
}

//MetadataRecord describes one logical data item, optionally referencing a
//stored artifact via ContentRef. A record with a non-empty ContentRef always
//points at an artifact that exists in blob storage.
type MetadataRecord struct {
	ID              string            `json:"id"`
	PatientID       string            `json:"patientId"`
	StudyID         string            `json:"studyId,omitempty"`
	Modality        Modality          `json:"modality"`
	AcquisitionDate time.Time         `json:"acquisitionDate,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	ContentRef      string            `json:"contentRef,omitempty"`
}

//ItemStatus is the lifecycle state of a single upload item
type ItemStatus string

const (
	ItemQueued     ItemStatus = "queued"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemCancelled  ItemStatus = "cancelled"
)

//Terminal reports whether the item status is final
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed || s == ItemCancelled
}

//BatchStatus is the aggregate state of a batch job
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

//Terminal reports whether the batch status is final
func (s BatchStatus) Terminal() bool {
	return s != BatchRunning
}

//PatientInfo is demographic data sourced from an upstream HIS
type PatientInfo struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Sex        string            `json:"sex,omitempty"`
	BirthDate  string            `json:"birthDate,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

//ClinicalRecord is a medical record entry sourced from an upstream EMR
type ClinicalRecord struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patientId"`
	Department string    `json:"department,omitempty"`
	Diagnosis  string    `json:"diagnosis,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

//LabResult is a laboratory result sourced from an upstream LIS
type LabResult struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patientId"`
	TestType       string    `json:"testType"`
	Value          string    `json:"value"`
	Unit           string    `json:"unit,omitempty"`
	ReferenceRange string    `json:"referenceRange,omitempty"`
	ReportedAt     time.Time `json:"reportedAt"`
}

//ImagingStudy is an imaging study reference sourced from an upstream PACS
type ImagingStudy struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patientId"`
	StudyID     string    `json:"studyId"`
	Modality    Modality  `json:"modality"`
	Description string    `json:"description,omitempty"`
	PerformedAt time.Time `json:"performedAt"`
}
