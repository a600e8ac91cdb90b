package config

import "os"

func lookupEnvironment() string {
	if v, ok := os.LookupEnv(envPrefix + "_ENVIRONMENT"); ok {
		return v
	}
	return os.Getenv("ENVIRONMENT")
}
