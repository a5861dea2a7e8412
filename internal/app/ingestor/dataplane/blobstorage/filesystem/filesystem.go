package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	uuid "github.com/satori/go.uuid"

	"github.com/medplane/medplane/internal/pkg/medical"
)

//Config to set up a filesystem blob provider
type Config struct {
	BaseDir string `yaml:"basedir"`
}

//BlobStorage stores artifacts on local disk, sharded by the first two
//characters of the artifact reference
type BlobStorage struct {
	baseDir string
}

//NewBlobStorage creates a new filesystem blob provider
func NewBlobStorage(config *Config) (*BlobStorage, error) {
	if err := os.MkdirAll(config.BaseDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("error creating directory for filesystem blob provider: %w", err)
	}
	return &BlobStorage{baseDir: config.BaseDir}, nil
}

//Put writes a payload to disk and returns its artifact reference
func (s *BlobStorage) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", medical.WrapTimeout("blob put", err)
	}
	ref := uuid.NewV4().String()
	dir := filepath.Join(s.baseDir, ref[:2])
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("error creating shard directory: %w", err)
	}
	// write to a temp name first so a crash never leaves a readable partial artifact
	tmp := filepath.Join(dir, ref+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("error writing artifact %s: %w", ref, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, ref)); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("error finalising artifact %s: %w", ref, err)
	}
	return ref, nil
}

//Get reads an artifact payload from disk
func (s *BlobStorage) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, medical.WrapTimeout("blob get", err)
	}
	if len(ref) < 2 {
		return nil, &medical.NotFoundError{Kind: "artifact", ID: ref}
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, ref[:2], ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &medical.NotFoundError{Kind: "artifact", ID: ref}
		}
		return nil, fmt.Errorf("error reading artifact %s: %w", ref, err)
	}
	return data, nil
}

//Delete removes an artifact from disk. Deleting an unknown reference is not
//an error.
func (s *BlobStorage) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return medical.WrapTimeout("blob delete", err)
	}
	if len(ref) < 2 {
		return nil
	}
	err := os.Remove(filepath.Join(s.baseDir, ref[:2], ref))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error deleting artifact %s: %w", ref, err)
	}
	return nil
}

//Close cleans up any external resources
func (s *BlobStorage) Close() {
}
