package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlaywrightDriver_RequestListeners(t *testing.T) {
	d := &PlaywrightDriver{}
	var got []time.Time
	d.OnRequest(func(at time.Time) { got = append(got, at) })
	d.OnRequest(func(at time.Time) {
		// Registering from inside a listener must not deadlock or affect
		// the delivery in progress.
		d.OnRequest(func(time.Time) {})
	})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.fireRequest(at)

	assert.Equal(t, []time.Time{at}, got)
	assert.Len(t, d.listeners, 3)
}
