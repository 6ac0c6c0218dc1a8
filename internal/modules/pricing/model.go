// README: Ride classes and per-class tariff parameters.
package pricing

type RideClass string

const (
	ClassStandard RideClass = "standard"
	ClassPool     RideClass = "pool"
	ClassLuxury   RideClass = "luxury"
)

// Rate is a linear tariff: Base + PerUnit * distance.
type Rate struct {
	Class   RideClass
	Base    float64
	PerUnit float64
}

var defaultRates = []Rate{
	{Class: ClassStandard, Base: 5, PerUnit: 0.5},
	{Class: ClassPool, Base: 3, PerUnit: 0.3},
	{Class: ClassLuxury, Base: 10, PerUnit: 1.0},
}
