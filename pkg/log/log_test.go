package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggingBeforeInit(t *testing.T) {
	// Library packages log without the application calling Init first.
	assert.NotPanics(t, func() {
		Info("message before init")
		Infof("formatted %s", "message")
		Infow("structured", "key", "value")
		Warnf("warning %d", 1)
		Errorf("error %d", 1)
		Error("with error", assert.AnError)
		Sync()
	})
}

func TestInitBadLevelFallsBackToInfo(t *testing.T) {
	assert.NotPanics(t, func() {
		Init("not-a-level", "console", "")
		Info("after init")
	})
}
