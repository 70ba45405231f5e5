/*
Copyright 2024 The Nuclio Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package bridgeconfig

import (
	"io"
	"io/ioutil"
	"os"

	"github.com/imdario/mergo"
	"github.com/nuclio/errors"
	"sigs.k8s.io/yaml"
)

type Reader struct{}

func NewReader() (*Reader, error) {
	return &Reader{}, nil
}

// Read parses a YAML configuration into config and fills in whatever it left out
func (r *Reader) Read(reader io.Reader, config *Config) error {
	configBytes, err := ioutil.ReadAll(reader)
	if err != nil {
		return errors.Wrap(err, "Failed to read bridge configuration")
	}

	if err := yaml.Unmarshal(configBytes, config); err != nil {
		return errors.Wrap(err, "Failed to parse bridge configuration")
	}

	if err := mergo.Merge(config, r.GetDefaultConfiguration()); err != nil {
		return errors.Wrap(err, "Failed to apply configuration defaults")
	}

	return nil
}

func (r *Reader) ReadFileOrDefault(configurationPath string) (*Config, error) {
	var bridgeConfiguration Config

	// no file means defaults
	configurationFile, err := os.Open(configurationPath)
	if err != nil {
		return r.GetDefaultConfiguration(), nil
	}

	defer configurationFile.Close() // nolint: errcheck

	if err := r.Read(configurationFile, &bridgeConfiguration); err != nil {
		return nil, errors.Wrapf(err, "Failed to read configuration file %s", configurationPath)
	}

	return &bridgeConfiguration, nil
}

func (r *Reader) GetDefaultConfiguration() *Config {
	return &Config{
		Bridge: Bridge{
			Codec:            "etf",
			HandshakeTimeout: "5s",
		},
		Logger: Logger{
			Level: "info",
		},
	}
}
