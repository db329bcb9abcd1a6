package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

func Load(filename string) (Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Config is hooks called around status changes made by sweeps.
type Config struct {
	Lifecycle WebHook `yaml:"lifecycle-hooks,omitempty"`
}

// WebHook is a set of urls.
//
// Each url receives an instance detail as a JSON POST request.
type WebHook struct {
	Before []*url.URL
	After  []*url.URL
}

func (wh *WebHook) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		Before []string `yaml:"before"`
		After  []string `yaml:"after"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	before, err := parseURLs(raw.Before)
	if err != nil {
		return fmt.Errorf("before: %w", err)
	}
	after, err := parseURLs(raw.After)
	if err != nil {
		return fmt.Errorf("after: %w", err)
	}
	wh.Before, wh.After = before, after
	return nil
}

// parseURLs parses hook urls. Only http and https are allowed.
func parseURLs(urls []string) ([]*url.URL, error) {
	ret := make([]*url.URL, 0, len(urls))
	for _, u := range urls {
		parsed, err := url.Parse(u)
		if err != nil {
			return nil, err
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("hook url should be http(s): %s", u)
		}
		ret = append(ret, parsed)
	}
	return ret, nil
}
