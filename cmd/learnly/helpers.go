package main

import (
	"fmt"
	"os"

	learnly "github.com/Learnly-EDU/Learnly/sdk/golang"
)

// getClient creates a Learnly client authenticated with the stored token.
func getClient() *learnly.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'learnly init <token>' first.")
		os.Exit(1)
	}

	return learnly.NewClient(cfg.Auth.Token, clientOptions(cfg)...)
}

func clientOptions(cfg *Config) []learnly.ClientOption {
	var opts []learnly.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, learnly.WithBaseURL(cfg.Default.BaseURL))
	} else if cfg.Default.Environment != "" && cfg.Default.Environment != "production" {
		opts = append(opts, learnly.WithEnvironment(learnly.Environment(cfg.Default.Environment)))
	}
	return opts
}

// requireSubjectID returns the stored subject id or exits.
func requireSubjectID(cfg *Config) string {
	if cfg.Auth.SubjectID == "" {
		fmt.Fprintln(os.Stderr, "No subject id. Run 'learnly config set auth.subject_id <id>' first.")
		os.Exit(1)
	}
	return cfg.Auth.SubjectID
}
