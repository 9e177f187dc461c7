package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv loads environment variables from a .env file if it exists.
// Variables already set in the environment win.
func LoadEnv(filename string) error {
	if err := godotenv.Load(filename); err != nil {
		// .env file is optional
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", filename, err)
	}
	return nil
}

// GetRPCEndpoints returns the comma-separated RPC_ENDPOINTS list.
func GetRPCEndpoints() []string {
	return splitAndClean(os.Getenv("RPC_ENDPOINTS"))
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
