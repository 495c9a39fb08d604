package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"gopkg.in/yaml.v3"
)

type channelsFile struct {
	Channels []domain.ChannelConfig `yaml:"channels"`
}

// LoadChannels reads the tracked channel list from a YAML file.
func LoadChannels(path string) ([]domain.ChannelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading channels file: %w", err)
	}
	return ParseChannels(data)
}

func ParseChannels(data []byte) ([]domain.ChannelConfig, error) {
	var file channelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing channels file: %w", err)
	}

	seen := make(map[string]bool, len(file.Channels))
	channels := make([]domain.ChannelConfig, 0, len(file.Channels))
	for i, ch := range file.Channels {
		ch.ID = strings.TrimSpace(ch.ID)
		if ch.ID == "" {
			return nil, fmt.Errorf("channel at index %d: id is required", i)
		}
		if seen[ch.ID] {
			return nil, fmt.Errorf("channel %s listed twice", ch.ID)
		}
		seen[ch.ID] = true
		if ch.Name == "" {
			ch.Name = ch.ID
		}
		channels = append(channels, ch)
	}
	return channels, nil
}
