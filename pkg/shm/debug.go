package shm

import (
	"os"

	"github.com/srediag/shm-exchange/internal/logger"
)

var internalLogger = logger.New("shm", os.Stdout)

// SetLogLevel sets the level of every logger of this module.
// Use logger.LevelTrace through logger.LevelNoPrint.
func SetLogLevel(l int) {
	logger.SetLevel(l)
}
