package conf

import (
	"fmt"

	"github.com/cvkitio/cvkit-go/internal/errors"
)

// ValidateSettings checks cross-field constraints that viper cannot express.
// It is called once after Load; settings are treated as immutable afterwards.
func ValidateSettings(s *Settings) error {
	if s.Workers.DetectWorkers < 1 {
		return validationError("workers.detectworkers must be >= 1, got %d", s.Workers.DetectWorkers)
	}
	if s.Workers.FrameWorkers != FrameWorkerCount {
		return validationError("workers.frameworkers is fixed at %d, got %d", FrameWorkerCount, s.Workers.FrameWorkers)
	}
	if s.Channel.Capacity < 1 {
		return validationError("channel.capacity must be >= 1, got %d", s.Channel.Capacity)
	}
	if s.Channel.PublishTimeout <= 0 {
		return validationError("channel.publishtimeout must be positive, got %v", s.Channel.PublishTimeout)
	}
	if s.Supervisor.MaxRestarts < 0 {
		return validationError("supervisor.maxrestarts must be >= 0, got %d", s.Supervisor.MaxRestarts)
	}

	switch s.Source.Type {
	case SourceTypeFile:
		if s.Source.Path == "" {
			return validationError("source.path is required for source.type file")
		}
	case SourceTypeRTSP:
		if s.Source.URL == "" {
			return validationError("source.url is required for source.type rtsp")
		}
	case SourceTypeWebcam, "":
	default:
		return validationError("unknown source.type %q", s.Source.Type)
	}

	for _, p := range s.Preprocessors {
		switch p.Type {
		case "resize", "grayscale":
		default:
			return validationError("unknown preprocessor type %q", p.Type)
		}
	}

	return validateDetectorGraph(s.Detectors)
}

// validateDetectorGraph verifies that detector names are unique, parents
// exist and the parent relation is acyclic.
func validateDetectorGraph(detectors []DetectorConfig) error {
	byName := make(map[string]*DetectorConfig, len(detectors))
	for i := range detectors {
		d := &detectors[i]
		if d.Name == "" {
			return validationError("detector at index %d has no name", i)
		}
		if d.Type == "" {
			return validationError("detector %q has no type", d.Name)
		}
		if _, dup := byName[d.Name]; dup {
			return validationError("duplicate detector name %q", d.Name)
		}
		byName[d.Name] = d
	}

	for i := range detectors {
		d := &detectors[i]
		if d.Parent == "" {
			continue
		}
		if d.Parent == d.Name {
			return validationError("detector %q is its own parent", d.Name)
		}
		if _, ok := byName[d.Parent]; !ok {
			return validationError("detector %q references unknown parent %q", d.Name, d.Parent)
		}

		// Walk the parent chain; revisiting the start means a cycle. The
		// chain is bounded by the node count so this terminates.
		seen := map[string]bool{d.Name: true}
		for cur := d.Parent; cur != ""; cur = byName[cur].Parent {
			if seen[cur] {
				return validationError("detector %q is part of a parent cycle", d.Name)
			}
			seen[cur] = true
		}
	}

	return nil
}

func validationError(format string, args ...any) error {
	return errors.New(fmt.Errorf(format, args...)).
		Component("conf").
		Category(errors.CategoryValidation).
		Build()
}
