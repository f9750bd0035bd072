package config

import "os"

// Credential environment variables. The pipeline never stores or
// rotates these; they are injected by the invoking environment and
// read once per run. A .env file in the working directory is honored
// through godotenv autoload in main.
const (
	EnvRegistryUser  = "DAVIT_REGISTRY_USER"
	EnvRegistryToken = "DAVIT_REGISTRY_TOKEN"
	EnvReleaseToken  = "DAVIT_RELEASE_TOKEN"
)

// RegistryUser returns the registry username from the environment.
func RegistryUser() string { return os.Getenv(EnvRegistryUser) }

// RegistryToken returns the opaque registry credential.
func RegistryToken() string { return os.Getenv(EnvRegistryToken) }

// ReleaseToken returns the opaque release host credential.
func ReleaseToken() string { return os.Getenv(EnvReleaseToken) }
