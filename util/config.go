package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

func ReadJSONConfig(filename string, config interface{}) error {
	configData, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	err = json.Unmarshal(configData, config)
	if err != nil {
		return errors.Wrapf(err, "could not parse %s", filename)
	}
	return nil
}

// ReadConfig reads a JSON or YAML config file, picked by extension.
func ReadConfig(filename string, config interface{}) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		configData, err := os.ReadFile(filename)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(configData, config); err != nil {
			return errors.Wrapf(err, "could not parse %s", filename)
		}
		return nil
	default:
		return ReadJSONConfig(filename, config)
	}
}

func WriteJSONConfig(filename string, config interface{}) error {
	configData, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filename, configData, 0o644)
}

func CheckErr(err error, errfmsg string, fargs ...interface{}) {
	if err != nil {
		fmt.Fprintf(os.Stderr, errfmsg, fargs...)
		os.Exit(1)
	}
}
