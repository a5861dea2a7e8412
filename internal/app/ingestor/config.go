package ingestor

import (
	"github.com/medplane/medplane/internal/app/ingestor/dataplane/blobstorage/filesystem"
	"github.com/medplane/medplane/internal/app/ingestor/dataplane/blobstorage/s3"
	"github.com/medplane/medplane/internal/app/ingestor/dataplane/clinical/httpclient"
)

// Version of the ingestor, set at build time via -ldflags
var Version = "dev"

//Configuration represents the input configuration schema
type Configuration struct {
	LogFile            string             `yaml:"logfile" description:"File to log output to"`
	LogLevel           string             `yaml:"loglevel" description:"Logging level, possible values {debug, info, warn, error}"`
	PrintConfig        bool               `yaml:"printconfig" description:"Set to print config on start"`
	Hostname           string             `yaml:"hostname" description:"Hostname to serve the API on"`
	Port               int                `yaml:"port" description:"Port to serve the API on"`
	DataDir            string             `yaml:"datadir" description:"Base directory for the metadata index and local artifacts"`
	BlobProvider       string             `yaml:"blobprovider" description:"Artifact store backend, possible values {filesystem, s3, inmemory}"`
	MaxItemSizeBytes   int64              `yaml:"maxitemsizebytes" description:"Maximum accepted payload size for one item"`
	MaxBatchSizeBytes  int64              `yaml:"maxbatchsizebytes" description:"Maximum accepted total payload size for one batch"`
	AllowedFormats     []string           `yaml:"allowedformats" description:"Accepted payload formats, empty accepts all"`
	Workers            int                `yaml:"workers" description:"Number of batch workers"`
	QueueCapacity      int                `yaml:"queuecapacity" description:"Capacity of the batch work queue"`
	DefaultQueryLimit  int                `yaml:"defaultquerylimit" description:"Result limit applied to text queries without an explicit limit"`
	CacheSize          int                `yaml:"cachesize" description:"Number of records held in the index read cache"`
	CallTimeoutSeconds int                `yaml:"calltimeoutseconds" description:"Per-call timeout for storage and upstream calls"`
	FileSystemProvider *filesystem.Config `yaml:"filesystemprovider" description:"Filesystem artifact store" export:"true"`
	S3Provider         *s3.Config         `yaml:"s3provider" description:"S3 artifact store" export:"true"`
	ClinicalSystems    *httpclient.Config `yaml:"clinicalsystems" description:"External clinical system endpoints" export:"true"`
}

// NewConfiguration create a config populated with defaults
func NewConfiguration() Configuration {
	cfg := Configuration{}
	cfg.FileSystemProvider = &filesystem.Config{}
	cfg.S3Provider = &s3.Config{}
	cfg.ClinicalSystems = &httpclient.Config{}
	return cfg
}
