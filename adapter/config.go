package adapter

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type adapterFile struct {
	Adapters []adapterYAML `yaml:"adapters"`
}

type adapterYAML struct {
	Name              string   `yaml:"name"`
	URLHint           string   `yaml:"url_hint"`
	Input             []string `yaml:"input"`
	Send              []string `yaml:"send"`
	Stop              []string `yaml:"stop"`
	ResponseContainer []string `yaml:"response_container"`
	ResponseContent   []string `yaml:"response_content"`
	TimeoutSeconds    int      `yaml:"timeout_seconds"`
}

// LoadFile reads adapter descriptors from a YAML file. The result is not
// validated here; NewRegistry does that so compiled-in and file-loaded
// adapters go through the same gate.
func LoadFile(path string) ([]Adapter, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrapf(err, "reading adapter file %q", path)
	}
	var f adapterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parsing adapter file %q", path)
	}

	adapters := make([]Adapter, 0, len(f.Adapters))
	for _, a := range f.Adapters {
		adapters = append(adapters, Adapter{
			Name:              a.Name,
			URLHint:           a.URLHint,
			Input:             a.Input,
			Send:              a.Send,
			Stop:              a.Stop,
			ResponseContainer: a.ResponseContainer,
			ResponseContent:   a.ResponseContent,
			DefaultTimeout:    time.Duration(a.TimeoutSeconds) * time.Second,
		})
	}
	return adapters, nil
}
