// Package config loads corral settings from defaults, an optional YAML file,
// CORRAL_* environment variables and command line flags, using viper. Keys
// are snake_case and nest with dots: scheduler.max_cores is set by
// CORRAL_SCHEDULER_MAX_CORES or --max-cores.
package config
