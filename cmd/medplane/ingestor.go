package main

import (
	"errors"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/medplane/medplane/internal/app/ingestor"
)

var ingestorConfig = ingestor.NewConfiguration()

var ingestorCmdConfig = viper.New()

// NewIngestorCommand create the ingestor command with its flags
func NewIngestorCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "medplane",
		Short: "medplane ingests medical data and serves metadata queries",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// ambient .env values fill in anything the flags leave unset
			_ = godotenv.Load()

			ingestorConfig.LogFile = ingestorCmdConfig.GetString("log-file")
			ingestorConfig.LogLevel = ingestorCmdConfig.GetString("log-level")
			ingestorConfig.PrintConfig, _ = cmd.Flags().GetBool("printconfig")

			if ingestorConfig.LogLevel != "debug" && ingestorConfig.LogLevel != "info" && ingestorConfig.LogLevel != "warn" && ingestorConfig.LogLevel != "error" {
				return errors.New("Unknown log level: " + ingestorConfig.LogLevel)
			}

			return nil
		},
	}

	cmd.AddCommand(NewStartCommand())
	cmd.AddCommand(NewVersionCommand())

	flags := cmd.PersistentFlags()

	flags.StringP("logfile", "L", "", "File to log output to")
	flags.StringP("loglevel", "l", "warn", "Logging level, possible values {debug, info, warn, error}")
	flags.BoolP("printconfig", "P", false, "Set to print config on start")

	ingestorCmdConfig.BindPFlag("log-file", flags.Lookup("logfile"))
	ingestorCmdConfig.BindPFlag("log-level", flags.Lookup("loglevel"))

	return cmd
}
