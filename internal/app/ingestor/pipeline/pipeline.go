package pipeline

import (
	"context"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/medplane/medplane/internal/app/ingestor/dataplane"
	"github.com/medplane/medplane/internal/app/ingestor/logger"
	"github.com/medplane/medplane/internal/app/ingestor/preprocess"
	"github.com/medplane/medplane/internal/pkg/medical"
)

//Config for the upload pipeline
type Config struct {
	MaxItemSize    int64    `yaml:"maxitemsize"`
	AllowedFormats []string `yaml:"allowedformats"`
}

//Indexer is the slice of the metadata index the pipeline needs
type Indexer interface {
	Insert(record medical.MetadataRecord) error
}

//Request is one unit of upload work
type Request struct {
	Payload    []byte
	Format     string
	Metadata   medical.MetadataRecord
	Preprocess bool
	Operations []preprocess.Operation
}

//Pipeline validates, preprocesses, stores and indexes a single item. It is
//the unit of work for both single and batch uploads and is safe for
//concurrent use.
type Pipeline struct {
	blobs    dataplane.BlobProvider
	idx      Indexer
	registry *preprocess.Registry
	cfg      *Config
	formats  map[string]struct{}
}

//New creates a new upload pipeline
func New(cfg *Config, blobs dataplane.BlobProvider, idx Indexer, registry *preprocess.Registry) *Pipeline {
	formats := make(map[string]struct{}, len(cfg.AllowedFormats))
	for _, f := range cfg.AllowedFormats {
		formats[normalizeFormat(f)] = struct{}{}
	}
	return &Pipeline{
		blobs:    blobs,
		idx:      idx,
		registry: registry,
		cfg:      cfg,
		formats:  formats,
	}
}

//Submit runs one item through validate, preprocess, store and index. The
//metadata record becomes visible to readers only after every stage has
//succeeded; an indexing failure triggers best-effort cleanup of the stored
//artifact so the index never references a missing artifact.
func (p *Pipeline) Submit(ctx context.Context, req Request) (medical.MetadataRecord, error) {
	var zero medical.MetadataRecord
	if err := p.validate(&req); err != nil {
		return zero, err
	}

	payload := req.Payload
	if req.Preprocess && len(payload) > 0 {
		out, err := p.registry.Apply(payload, req.Operations)
		if err != nil {
			return zero, err
		}
		payload = out
	}

	record := req.Metadata
	record.ID = uuid.NewV4().String()
	record.CreatedAt = time.Now().UTC()
	lctx := &logger.Context{ItemID: record.ID, PatientID: record.PatientID}

	if len(payload) > 0 {
		ref, err := p.blobs.Put(ctx, payload)
		if err != nil {
			if medical.IsTimeout(err) {
				return zero, err
			}
			return zero, &medical.StorageError{Op: "put", Err: err}
		}
		record.ContentRef = ref
	}

	if err := p.idx.Insert(record); err != nil {
		if record.ContentRef != "" {
			if derr := p.blobs.Delete(ctx, record.ContentRef); derr != nil {
				logger.Error(lctx, "failed to clean up orphan artifact after index failure", derr)
			}
		}
		return zero, &medical.IndexError{Err: err}
	}

	logger.InfoWithFields(lctx, "item ingested", map[string]interface{}{
		"modality": record.Modality,
		"bytes":    len(payload),
	})
	return record, nil
}

func (p *Pipeline) validate(req *Request) error {
	if len(req.Payload) == 0 && strings.TrimSpace(req.Metadata.Summary) == "" {
		return &medical.ValidationError{Reason: "empty payload"}
	}
	if p.cfg.MaxItemSize > 0 && int64(len(req.Payload)) > p.cfg.MaxItemSize {
		return &medical.ValidationError{Reason: "payload exceeds maximum item size"}
	}
	if !req.Metadata.Modality.Valid() {
		return &medical.ValidationError{Reason: "unknown modality " + string(req.Metadata.Modality)}
	}
	if len(req.Payload) > 0 && len(p.formats) > 0 {
		if _, ok := p.formats[normalizeFormat(req.Format)]; !ok {
			return &medical.ValidationError{Reason: "format " + req.Format + " not allowed"}
		}
	}
	return nil
}

func normalizeFormat(f string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
}
