package config

import "os"

func IsDebug() bool {
	return os.Getenv("CONTEXTD_DEBUG") == "1"
}
