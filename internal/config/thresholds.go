package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// thresholdsFile is the on-disk YAML shape of the SLA thresholds.
type thresholdsFile struct {
	LatencyMS             float64 `yaml:"latency_ms"`
	ErrorRatePercent      float64 `yaml:"error_rate_percent"`
	BreachDurationSeconds int     `yaml:"breach_duration_seconds"`
}

// LoadThresholds reads SLA thresholds from a YAML file. Zero or negative
// values fall back to the corresponding default.
func LoadThresholds(path string) (Thresholds, error) {
	def := DefaultThresholds()
	data, err := os.ReadFile(path)
	if err != nil {
		return def, err
	}
	var tf thresholdsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return def, fmt.Errorf("parse thresholds file: %w", err)
	}
	t := def
	if tf.LatencyMS > 0 {
		t.LatencyMS = tf.LatencyMS
	}
	if tf.ErrorRatePercent > 0 {
		t.ErrorRatePercent = tf.ErrorRatePercent
	}
	if tf.BreachDurationSeconds > 0 {
		t.BreachDuration = time.Duration(tf.BreachDurationSeconds) * time.Second
	}
	return t, nil
}

// WatchThresholds watches the thresholds file and invokes onChange with the
// freshly loaded thresholds whenever it is rewritten. It blocks until the
// watcher fails or stop is closed, so run it on its own goroutine.
func WatchThresholds(path string, log *logrus.Logger, stop <-chan struct{}, onChange func(Thresholds)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and configmap mounts replace the file,
	// which drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			t, err := LoadThresholds(path)
			if err != nil {
				log.WithError(err).Warn("Failed to reload thresholds, keeping current values")
				continue
			}
			log.WithFields(logrus.Fields{
				"latency_ms":         t.LatencyMS,
				"error_rate_percent": t.ErrorRatePercent,
				"breach_duration":    t.BreachDuration,
			}).Info("Reloaded SLA thresholds")
			onChange(t)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Thresholds watcher error")
		}
	}
}
