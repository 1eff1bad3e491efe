package core

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// SeedEnv names the environment variable holding the random seed.
	SeedEnv = "MDBENCH_SEED"

	// WorkersEnv names the environment variable holding the oracle worker count.
	WorkersEnv = "MDBENCH_NTRD"
)

// GetSeed receives a seed value for random number generation from the MDBENCH_SEED environment variable.
func GetSeed() int64 {
	seedStr := os.Getenv(SeedEnv)
	if seedStr != "" {
		if seed, err := strconv.ParseInt(seedStr, 10, 64); err == nil {
			log.Debug().Msgf("Using seed from %s value: %d", SeedEnv, seed)
			return seed
		}
		log.Warn().Msgf("Failed to parse %s value: %s", SeedEnv, seedStr)
	}

	seed := time.Now().UnixNano()
	log.Debug().Msgf("Using current time as seed: %d", seed)
	return seed
}

// GetWorkers returns the number of workers used for oracle batches.
// It defaults to 1 when MDBENCH_NTRD is unset or not a positive integer.
func GetWorkers() int {
	if env := os.Getenv(WorkersEnv); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 {
			return n
		}
		log.Warn().Msgf("Ignoring invalid %s value: %s", WorkersEnv, env)
	}
	return 1
}
