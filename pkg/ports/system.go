package ports

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// SystemClock is the production ClockPort backed by wall-clock time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// SystemRandom is the production RandomPort, backed by google/uuid for IDs
// (a common choice for request/record IDs, e.g.
// pkg/services/session_service.go's uuid.New().String()) and math/rand/v2
// for the practice-selection bias draw.
type SystemRandom struct{}

func (SystemRandom) NewID() string    { return uuid.New().String() }
func (SystemRandom) Float64() float64 { return rand.Float64() }
