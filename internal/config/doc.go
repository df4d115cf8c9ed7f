// Package config provides centralized configuration management for the
// daemon, covering the API server, chain definitions, contract addresses,
// storage backends, and the off-chain execution service.
package config
