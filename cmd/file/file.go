// Package file implements the file-source pipeline command.
package file

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/pipeline"
)

// Command creates the command that runs the pipeline over a video file and
// exits at end of stream.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file [input video]",
		Short: "Run the detection pipeline over a video file",
		Long:  "Process a single video file through the detector chain and exit when the stream ends.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings.Source.Type = conf.SourceTypeFile
			settings.Source.Path = args[0]
			if err := conf.ValidateSettings(settings); err != nil {
				return err
			}
			return pipeline.Run(context.Background(), settings)
		},
	}
	return cmd
}
