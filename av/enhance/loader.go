package enhance

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads the YAML configuration file at path and returns a
// validated Config. Fields missing from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadConfigFromReader(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "LoadConfig",
		"path":        path,
		"sample_rate": cfg.SampleRate,
		"frame_size":  cfg.FrameSize,
		"hop_size":    cfg.HopSize,
		"intensity":   cfg.Intensity,
	}).Info("Loaded enhancement configuration")

	return cfg, nil
}

// LoadConfigFromReader decodes YAML from r over DefaultConfig and validates
// the result. Unknown keys are rejected. An empty document yields the
// defaults.
func LoadConfigFromReader(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteConfig encodes cfg as YAML to w.
func WriteConfig(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode yaml: %w", err)
	}
	return enc.Close()
}
