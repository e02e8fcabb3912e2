// Package config provides centralized configuration management for edustat.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//  1. Environment variables (highest priority)
//  2. YAML configuration file (edustat.yaml or configs/edustat.yaml)
//  3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern EDUSTAT_<SECTION>_<FIELD>:
//
//	EDUSTAT_STORAGE_PATH=/var/lib/edustat/edustat.db
//	EDUSTAT_STATISTICS_CHUNK_THRESHOLD=20000
//	EDUSTAT_STATISTICS_PERCENTILES=5,10,25,50,75,90,95
//	EDUSTAT_TASKS_DUPLICATE_POLICY=reject
//	EDUSTAT_REDIS_ENABLED=true
//
// Invalid values surface as CONFIG errors from the errors package.
package config
