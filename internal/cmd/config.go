package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Nats struct {
		URL    string `yaml:"url"`
		Bucket string `yaml:"bucket"`
		// RoomTTL garbage-collects idle rooms at the bucket level; the
		// activity heartbeat exists to keep live rooms clear of it.
		RoomTTL time.Duration `yaml:"room_ttl"`
	} `yaml:"nats"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, nil
}

func defaultConfig() *Config {
	c := &Config{}
	c.Server.Port = getEnv("PORT", "8080")
	c.Nats.URL = getEnv("NATS_URL", "nats://localhost:4222")
	c.Nats.Bucket = getEnv("NATS_BUCKET", "rooms")
	c.Nats.RoomTTL = time.Duration(getEnvAsInt("ROOM_TTL_MINUTES", 120)) * time.Minute
	return c
}
