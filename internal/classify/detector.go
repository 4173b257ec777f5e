package classify

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"easeld/internal/session"
)

// PluginDetector reports AI generation plugins present in the host
// environment. Detection is best-effort and additive: a detector hit
// forces AIAssisted even when no plugin event was captured, but a miss
// never clears what events already established.
type PluginDetector interface {
	// DetectAIPlugins returns the names of installed AI generation
	// plugins. An empty slice with nil error means none found.
	DetectAIPlugins(ctx context.Context) ([]string, error)
}

// aiPluginMarkers are substrings that mark a plugin directory or
// descriptor as an AI generation tool.
var aiPluginMarkers = []string{
	"ai_diffusion",
	"stable_diffusion",
	"stable-diffusion",
	"dall-e",
	"dalle",
	"img2img",
	"txt2img",
	"generative",
}

// FilesystemScan detects AI plugins by scanning the host's plugin
// directories for known descriptor names.
type FilesystemScan struct {
	// Dirs are the plugin directories to scan.
	Dirs []string
}

func (d *FilesystemScan) DetectAIPlugins(ctx context.Context) ([]string, error) {
	var found []string
	for _, dir := range d.Dirs {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			// A missing plugin directory is not an error.
			continue
		}
		for _, e := range entries {
			name := strings.ToLower(e.Name())
			name = strings.TrimSuffix(name, filepath.Ext(name))
			for _, marker := range aiPluginMarkers {
				if strings.Contains(name, marker) {
					found = append(found, e.Name())
					break
				}
			}
		}
	}
	return found, nil
}

// HostAPIQuery detects AI plugins by asking the host application for its
// enabled-plugin list through an injected query function.
type HostAPIQuery struct {
	// Query returns (name, type) pairs for every enabled plugin.
	Query func(ctx context.Context) (map[string]string, error)
}

func (d *HostAPIQuery) DetectAIPlugins(ctx context.Context) ([]string, error) {
	if d.Query == nil {
		return nil, nil
	}
	plugins, err := d.Query(ctx)
	if err != nil {
		return nil, err
	}
	var found []string
	for name, typ := range plugins {
		upper := strings.ToUpper(typ)
		if strings.Contains(upper, "AI") || strings.Contains(upper, "GENERATION") {
			found = append(found, name)
		}
	}
	return found, nil
}

var _ PluginDetector = (*FilesystemScan)(nil)
var _ PluginDetector = (*HostAPIQuery)(nil)

// Engine couples the rule set with optional environment detectors.
type Engine struct {
	detectors []PluginDetector
}

// NewEngine builds a classification engine with the given detectors.
// A nil or empty detector list is valid; the rules then run on captured
// events alone.
func NewEngine(detectors ...PluginDetector) *Engine {
	return &Engine{detectors: detectors}
}

// Classify runs the detectors, folds their findings into the session
// facts, and evaluates the rules. Detector errors are demoted to a miss;
// classification never fails.
func (e *Engine) Classify(ctx context.Context, t *session.Transcript) Result {
	facts := FactsFromTranscript(t)
	var detected []string
	for _, d := range e.detectors {
		names, err := d.DetectAIPlugins(ctx)
		if err != nil {
			continue
		}
		detected = append(detected, names...)
	}
	if len(detected) > 0 {
		facts.AIPluginDetected = true
	}
	r := Classify(facts)
	for _, name := range detected {
		r.Reasons = append(r.Reasons, "detected plugin: "+name)
	}
	return r
}
