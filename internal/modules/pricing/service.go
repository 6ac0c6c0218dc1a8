// README: Fare calculator; a registry of pure fare functions keyed by ride class.
package pricing

import (
	"math"
	"sync"

	"sharedride/internal/types"
)

// FareFunc prices a trip from plaintext origin and destination coordinates.
type FareFunc func(originLat, originLng, destLat, destLng float64) float64

type Calculator struct {
	mu       sync.RWMutex
	registry map[RideClass]FareFunc
	rates    map[RideClass]Rate
}

func NewCalculator() *Calculator {
	c := &Calculator{
		registry: make(map[RideClass]FareFunc, len(defaultRates)),
		rates:    make(map[RideClass]Rate, len(defaultRates)),
	}
	for _, r := range defaultRates {
		c.RegisterRate(r)
	}
	return c
}

// Linear returns the fare function for a rate. Distance is planar Euclidean
// over raw degrees, not geodesic.
func Linear(r Rate) FareFunc {
	return func(originLat, originLng, destLat, destLng float64) float64 {
		dLat := destLat - originLat
		dLng := destLng - originLng
		return r.Base + r.PerUnit*math.Sqrt(dLat*dLat+dLng*dLng)
	}
}

func (c *Calculator) RegisterRate(r Rate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[r.Class] = r
	c.registry[r.Class] = Linear(r)
}

func (c *Calculator) Register(class RideClass, fn FareFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rates, class)
	c.registry[class] = fn
}

// Normalize maps unknown classes to standard.
func (c *Calculator) Normalize(class RideClass) RideClass {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.registry[class]; ok {
		return class
	}
	return ClassStandard
}

// Rate reports the linear parameters behind a class, if it has any.
func (c *Calculator) Rate(class RideClass) (Rate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rates[class]
	return r, ok
}

func (c *Calculator) Quote(class RideClass, origin, dest types.Point) float64 {
	c.mu.RLock()
	fn, ok := c.registry[class]
	if !ok {
		fn = c.registry[ClassStandard]
	}
	c.mu.RUnlock()
	return fn(origin.Lat, origin.Lng, dest.Lat, dest.Lng)
}
