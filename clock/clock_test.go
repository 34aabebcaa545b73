package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStampIsUTCSeconds(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	c := Fake(time.Date(2025, 9, 1, 14, 3, 22, 987654321, loc))

	assert.Equal(t, "2025-09-01T12:03:22Z", Stamp(c))
}

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)
	c.Advance(90 * time.Second)

	assert.Equal(t, start.Add(90*time.Second), c.Now())
	assert.Equal(t, "2025-01-01T00:01:30Z", Stamp(c))
}

func TestRealStampParses(t *testing.T) {
	_, err := time.Parse(time.RFC3339, Stamp(Real()))
	assert.NoError(t, err)
}
