package providers

import (
	"bytes"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"

	"github.com/systmms/envlock/internal/logging"
)

var _ resty.Logger = restyLogger{}

func TestRestyLoggerStaysOnDebugStream(t *testing.T) {
	t.Parallel()

	var quiet bytes.Buffer
	l := restyLogger{log: logging.NewWithWriter(&quiet, false)}
	l.Errorf("ERROR RESTY %v", "connection reset")
	l.Warnf("retrying %d", 1)
	assert.Empty(t, quiet.String())

	var verbose bytes.Buffer
	l = restyLogger{log: logging.NewWithWriter(&verbose, true)}
	l.Errorf("ERROR RESTY %v", "connection reset")
	assert.Contains(t, verbose.String(), "hub: ERROR RESTY connection reset")
}
