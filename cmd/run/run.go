// Package run implements the realtime pipeline command.
package run

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/pipeline"
)

// Command creates the command that runs the pipeline against the configured
// live source until interrupted.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the detection pipeline in realtime mode",
		Long:  "Start the frame producer and detect worker pool against the configured webcam or RTSP source and run until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Source flags imply the source type.
			if cmd.Flags().Changed("rtsp") {
				settings.Source.Type = conf.SourceTypeRTSP
			} else if cmd.Flags().Changed("device") {
				settings.Source.Type = conf.SourceTypeWebcam
			}
			if err := conf.ValidateSettings(settings); err != nil {
				return err
			}
			return pipeline.Run(context.Background(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the run command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Source.URL, "rtsp", viper.GetString("source.url"), "URL of RTSP stream to capture")
	cmd.Flags().IntVar(&settings.Source.Device, "device", viper.GetInt("source.device"), "Webcam device index")
	cmd.Flags().BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of telemetry endpoint")
	cmd.Flags().BoolVar(&settings.Timing.Enabled, "timing", viper.GetBool("timing.enabled"), "Enable timing instrumentation")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}
	return nil
}
