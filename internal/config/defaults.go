package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	maxConcurrentFetches = 4
	httpConnections      = 4
	maxRetries           = 5
	connectTimeout       = 10 * time.Second
	readTimeout          = 30 * time.Second
	bufferSize           = 32 * 1024
	maxIdlePerHost       = 2
	maxIdleTime          = 90 * time.Second
	userAgent            = "segfetch/1.0"
)

var (
	downloadDir = filepath.Join(xdg.UserDirs.Download, configFileName)
	stateFile   = filepath.Join(xdg.DataHome, configFileName, "state.db")
)
