package trucks

import (
	"math/rand"
	"time"
)

const (
	// Base phase durations before jitter.
	LoadingBase    = 15 * time.Second
	DeliveringBase = 15 * time.Second
	WashingBase    = 10 * time.Second

	// Travel pacing: simulated seconds per delivery mile.
	SecondsPerMile = 2.0

	// JitterFraction spreads each duration across base*(1±fraction).
	JitterFraction = 0.2

	// PouredYards is the fixed amount reported on pouring completion.
	PouredYards = 10.0
)

// Durations produces randomized, positive phase durations. SpeedFactor
// divides everything uniformly so demos and tests can run compressed.
type Durations struct {
	speed float64
}

// NewDurations builds a Durations with the given speed factor.
// Factors <= 0 fall back to real-time pacing.
func NewDurations(speedFactor float64) Durations {
	if speedFactor <= 0 {
		speedFactor = 1
	}
	return Durations{speed: speedFactor}
}

// Loading returns the simulated duration of the loading phase.
func (d Durations) Loading() time.Duration {
	return d.jitter(LoadingBase)
}

// Travel returns the simulated one-way travel time for the given
// distance. Used for both EnRoute and Returning.
func (d Durations) Travel(miles float64) time.Duration {
	if miles < 0 {
		miles = 0
	}
	base := time.Duration(miles * SecondsPerMile * float64(time.Second))
	if base < time.Second {
		base = time.Second
	}
	return d.jitter(base)
}

// Delivering returns the simulated duration of the pouring phase.
func (d Durations) Delivering() time.Duration {
	return d.jitter(DeliveringBase)
}

// Washing returns the simulated duration of the washout phase.
func (d Durations) Washing() time.Duration {
	return d.jitter(WashingBase)
}

// jitter spreads base across ±JitterFraction and applies the speed
// factor, never returning zero.
func (d Durations) jitter(base time.Duration) time.Duration {
	f := 1 - JitterFraction + 2*JitterFraction*rand.Float64()
	out := time.Duration(float64(base) * f / d.speed)
	if out <= 0 {
		out = time.Millisecond
	}
	return out
}
