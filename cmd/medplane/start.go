package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/medplane/medplane/internal/app/ingestor"
	"github.com/medplane/medplane/internal/pkg/tools"
)

// NewStartCommand create the start command with its flags
func NewStartCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "start",
		Short: "Start the ingestion pipeline and query API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			ingestorConfig.Hostname = ingestorCmdConfig.GetString("hostname")
			ingestorConfig.Port = ingestorCmdConfig.GetInt("port")
			ingestorConfig.DataDir = ingestorCmdConfig.GetString("data-dir")
			ingestorConfig.BlobProvider = ingestorCmdConfig.GetString("blobprovider")
			ingestorConfig.MaxItemSizeBytes = ingestorCmdConfig.GetInt64("maxitemsizebytes")
			ingestorConfig.MaxBatchSizeBytes = ingestorCmdConfig.GetInt64("maxbatchsizebytes")
			ingestorConfig.AllowedFormats = ingestorCmdConfig.GetStringSlice("allowedformats")
			ingestorConfig.Workers = ingestorCmdConfig.GetInt("workers")
			ingestorConfig.QueueCapacity = ingestorCmdConfig.GetInt("queuecapacity")
			ingestorConfig.DefaultQueryLimit = ingestorCmdConfig.GetInt("defaultquerylimit")
			ingestorConfig.CacheSize = ingestorCmdConfig.GetInt("cachesize")
			ingestorConfig.CallTimeoutSeconds = ingestorCmdConfig.GetInt("calltimeoutseconds")

			ingestorConfig.FileSystemProvider.BaseDir = ingestorCmdConfig.GetString("filesystemprovider.basedir")

			ingestorConfig.S3Provider.Bucket = ingestorCmdConfig.GetString("s3provider.bucket")
			ingestorConfig.S3Provider.Prefix = ingestorCmdConfig.GetString("s3provider.prefix")
			ingestorConfig.S3Provider.UsePathStyle = ingestorCmdConfig.GetBool("s3provider.usepathstyle")

			ingestorConfig.ClinicalSystems.HISBaseURL = ingestorCmdConfig.GetString("clinicalsystems.hisbaseurl")
			ingestorConfig.ClinicalSystems.EMRBaseURL = ingestorCmdConfig.GetString("clinicalsystems.emrbaseurl")
			ingestorConfig.ClinicalSystems.LISBaseURL = ingestorCmdConfig.GetString("clinicalsystems.lisbaseurl")
			ingestorConfig.ClinicalSystems.PACSBaseURL = ingestorCmdConfig.GetString("clinicalsystems.pacsbaseurl")

			if ingestorConfig.PrintConfig {
				fmt.Println(tools.PrettyPrintStruct(ingestorConfig))
			}

			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			log.Infoln("Starting ingestor")

			if err := ingestor.Run(ingestorConfig); err != nil {
				log.WithError(err).Fatal("ingestor exited with error")
			}
		},
	}

	flags := cmd.PersistentFlags()

	flags.String("hostname", "", "Hostname to serve the API on")
	ingestorCmdConfig.BindPFlag("hostname", flags.Lookup("hostname"))

	flags.IntP("port", "p", 8080, "Port to serve the API on")
	ingestorCmdConfig.BindPFlag("port", flags.Lookup("port"))

	flags.StringP("data-dir", "b", "./data", "Base directory for the metadata index and local artifacts")
	ingestorCmdConfig.BindPFlag("data-dir", flags.Lookup("data-dir"))

	flags.String("blobprovider", "filesystem", "Artifact store backend, possible values {filesystem, s3, inmemory}")
	ingestorCmdConfig.BindPFlag("blobprovider", flags.Lookup("blobprovider"))

	flags.Int64("maxitemsizebytes", 64*1024*1024, "Maximum accepted payload size for one item")
	ingestorCmdConfig.BindPFlag("maxitemsizebytes", flags.Lookup("maxitemsizebytes"))

	flags.Int64("maxbatchsizebytes", 512*1024*1024, "Maximum accepted total payload size for one batch")
	ingestorCmdConfig.BindPFlag("maxbatchsizebytes", flags.Lookup("maxbatchsizebytes"))

	flags.StringSlice("allowedformats", nil, "Accepted payload formats, empty accepts all")
	ingestorCmdConfig.BindPFlag("allowedformats", flags.Lookup("allowedformats"))

	flags.IntP("workers", "w", 4, "Number of batch workers")
	ingestorCmdConfig.BindPFlag("workers", flags.Lookup("workers"))

	flags.Int("queuecapacity", 64, "Capacity of the batch work queue")
	ingestorCmdConfig.BindPFlag("queuecapacity", flags.Lookup("queuecapacity"))

	flags.Int("defaultquerylimit", 50, "Result limit applied to text queries without an explicit limit")
	ingestorCmdConfig.BindPFlag("defaultquerylimit", flags.Lookup("defaultquerylimit"))

	flags.Int("cachesize", 1024, "Number of records held in the index read cache")
	ingestorCmdConfig.BindPFlag("cachesize", flags.Lookup("cachesize"))

	flags.Int("calltimeoutseconds", 30, "Per-call timeout for storage and upstream calls")
	ingestorCmdConfig.BindPFlag("calltimeoutseconds", flags.Lookup("calltimeoutseconds"))

	flags.String("filesystemprovider.basedir", "", "Directory the filesystem artifact store writes to")
	ingestorCmdConfig.BindPFlag("filesystemprovider.basedir", flags.Lookup("filesystemprovider.basedir"))

	flags.String("s3provider.bucket", "", "S3 bucket for artifacts")
	ingestorCmdConfig.BindPFlag("s3provider.bucket", flags.Lookup("s3provider.bucket"))

	flags.String("s3provider.prefix", "", "Key prefix inside the S3 bucket")
	ingestorCmdConfig.BindPFlag("s3provider.prefix", flags.Lookup("s3provider.prefix"))

	flags.Bool("s3provider.usepathstyle", false, "Use path-style S3 addressing (needed by most S3-compatible stores)")
	ingestorCmdConfig.BindPFlag("s3provider.usepathstyle", flags.Lookup("s3provider.usepathstyle"))

	flags.String("clinicalsystems.hisbaseurl", "", "Base URL of the hospital information system")
	ingestorCmdConfig.BindPFlag("clinicalsystems.hisbaseurl", flags.Lookup("clinicalsystems.hisbaseurl"))

	flags.String("clinicalsystems.emrbaseurl", "", "Base URL of the electronic medical record system")
	ingestorCmdConfig.BindPFlag("clinicalsystems.emrbaseurl", flags.Lookup("clinicalsystems.emrbaseurl"))

	flags.String("clinicalsystems.lisbaseurl", "", "Base URL of the laboratory information system")
	ingestorCmdConfig.BindPFlag("clinicalsystems.lisbaseurl", flags.Lookup("clinicalsystems.lisbaseurl"))

	flags.String("clinicalsystems.pacsbaseurl", "", "Base URL of the imaging archive")
	ingestorCmdConfig.BindPFlag("clinicalsystems.pacsbaseurl", flags.Lookup("clinicalsystems.pacsbaseurl"))

	return cmd
}
