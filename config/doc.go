// Package config loads the balancer configuration from a YAML file and
// environment variables using viper, validates it with ozzo-validation and
// builds the worker pool from it. Any problem surfaces as a
// *ConfigurationError before a single worker is created.
package config
