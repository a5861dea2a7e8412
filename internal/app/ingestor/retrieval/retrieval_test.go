package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medplane/medplane/internal/app/ingestor/dataplane/blobstorage/inmemory"
	"github.com/medplane/medplane/internal/app/ingestor/dataplane/clinical/mock"
	"github.com/medplane/medplane/internal/app/ingestor/index"
	"github.com/medplane/medplane/internal/pkg/medical"
)

func newTestEngine(t *testing.T) (*Engine, *index.Index, *inmemory.BlobStorage, *mock.Provider) {
	t.Helper()
	idx, err := index.Open(&index.Config{})
	require.NoError(t, err)
	blobs := inmemory.NewBlobStorage()
	clinical := mock.NewProvider()
	return NewEngine(idx, blobs, clinical, 50), idx, blobs, clinical
}

func insert(t *testing.T, idx *index.Index, id, patient, study string, modality medical.Modality, summary string) {
	t.Helper()
	require.NoError(t, idx.Insert(medical.MetadataRecord{
		ID:        id,
		PatientID: patient,
		StudyID:   study,
		Modality:  modality,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestByPatientGroupsByCategory(t *testing.T) {
	engine, idx, _, _ := newTestEngine(t)

	insert(t, idx, "img", "p1", "s1", medical.ModalityCT, "chest scan")
	insert(t, idx, "doc", "p1", "s1", medical.ModalityText, "discharge note")
	insert(t, idx, "lab", "p1", "s1", medical.ModalityLabResult, "blood panel")
	insert(t, idx, "other", "p2", "s9", medical.ModalityMRI, "unrelated")

	view := engine.ByPatient("p1")
	require.Len(t, view.Images, 1)
	require.Len(t, view.Documents, 1)
	require.Len(t, view.Records, 1)
	assert.Equal(t, "img", view.Images[0].ID)
	assert.Equal(t, "doc", view.Documents[0].ID)
	assert.Equal(t, "lab", view.Records[0].ID)
}

func TestByStudy(t *testing.T) {
	engine, idx, _, _ := newTestEngine(t)

	insert(t, idx, "a", "p1", "s1", medical.ModalityMRI, "series one")
	insert(t, idx, "b", "p2", "s1", medical.ModalityMRI, "series two")
	insert(t, idx, "c", "p1", "s2", medical.ModalityMRI, "elsewhere")

	view := engine.ByStudy("s1")
	assert.Len(t, view.Images, 2)
	assert.Empty(t, view.Documents)
}

func TestSearchTextAppliesDefaultLimit(t *testing.T) {
	idx, err := index.Open(&index.Config{})
	require.NoError(t, err)
	engine := NewEngine(idx, inmemory.NewBlobStorage(), mock.NewProvider(), 2)

	insert(t, idx, "a", "p1", "", medical.ModalityText, "sepsis workup")
	insert(t, idx, "b", "p1", "", medical.ModalityText, "sepsis followup")
	insert(t, idx, "c", "p1", "", medical.ModalityText, "sepsis resolved")

	assert.Len(t, engine.SearchText("sepsis", 0), 2)
	assert.Len(t, engine.SearchText("sepsis", 3), 3)
}

func TestFetchArtifact(t *testing.T) {
	engine, idx, blobs, _ := newTestEngine(t)

	ref, err := blobs.Put(context.Background(), []byte("dicom bytes"))
	require.NoError(t, err)
	require.NoError(t, idx.Insert(medical.MetadataRecord{
		ID:         "r1",
		PatientID:  "p1",
		Modality:   medical.ModalityCT,
		ContentRef: ref,
		CreatedAt:  time.Now().UTC(),
	}))

	data, err := engine.FetchArtifact(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, []byte("dicom bytes"), data)
}

func TestFetchArtifactMissingRecordOrContent(t *testing.T) {
	engine, idx, _, _ := newTestEngine(t)

	_, err := engine.FetchArtifact(context.Background(), "missing")
	assert.True(t, medical.IsNotFound(err))

	insert(t, idx, "text-only", "p1", "", medical.ModalityText, "no artifact behind this")
	_, err = engine.FetchArtifact(context.Background(), "text-only")
	assert.True(t, medical.IsNotFound(err))
}

func TestIntegrateMergesClinicalSources(t *testing.T) {
	engine, idx, _, clinical := newTestEngine(t)

	insert(t, idx, "img", "p1", "s1", medical.ModalityCT, "chest scan")
	clinical.AddPatient(medical.PatientInfo{ID: "p1", Name: "Jane Doe"})
	clinical.AddRecords("p1", medical.ClinicalRecord{ID: "cr1", PatientID: "p1", Diagnosis: "pneumonia"})
	clinical.AddLabResults("p1", medical.LabResult{ID: "lr1", PatientID: "p1", TestType: "crp", Value: "40"})
	clinical.AddImagingStudies("p1", medical.ImagingStudy{ID: "is1", PatientID: "p1", StudyID: "s1", Modality: medical.ModalityCT})

	view := engine.Integrate(context.Background(), "p1")
	require.NotNil(t, view.PatientInfo)
	assert.Equal(t, "Jane Doe", view.PatientInfo.Name)
	assert.Len(t, view.ClinicalRecords, 1)
	assert.Len(t, view.LabResults, 1)
	assert.Len(t, view.ImagingStudies, 1)
	assert.Len(t, view.Images, 1)
	assert.Empty(t, view.Warnings)
}

func TestIntegrateDegradesPerSource(t *testing.T) {
	engine, idx, _, clinical := newTestEngine(t)

	insert(t, idx, "img", "p1", "s1", medical.ModalityCT, "chest scan")
	clinical.AddPatient(medical.PatientInfo{ID: "p1", Name: "Jane Doe"})
	clinical.AddLabResults("p1", medical.LabResult{ID: "lr1", PatientID: "p1", TestType: "crp", Value: "40"})
	clinical.FailSystem("emr")

	view := engine.Integrate(context.Background(), "p1")
	require.NotNil(t, view.PatientInfo)
	assert.Len(t, view.LabResults, 1)
	assert.Empty(t, view.ClinicalRecords)
	assert.Len(t, view.Images, 1, "indexed data survives upstream failures")
	require.Len(t, view.Warnings, 1)
	assert.Contains(t, view.Warnings[0], "emr")
}

func TestIntegrateUnknownPatientHasNoWarnings(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	view := engine.Integrate(context.Background(), "stranger")
	assert.Nil(t, view.PatientInfo)
	assert.Empty(t, view.Warnings, "a patient unknown upstream is not an upstream failure")
}
