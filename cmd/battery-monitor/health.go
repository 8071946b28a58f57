package main

// ratedCycles is the charge cycle count a laptop battery is typically rated for.
const ratedCycles = 1000

type healthClass struct {
	Label  string
	Advice string
}

func classifyHealth(pct float64) healthClass {
	switch {
	case pct > 90:
		return healthClass{"Excellent", "Your battery is in great condition."}
	case pct > 80:
		return healthClass{"Good", "Normal wear. Battery is healthy."}
	case pct > 70:
		return healthClass{"Fair", "Consider calibrating or reducing charge cycles."}
	default:
		return healthClass{"Poor", "Battery may need replacement soon."}
	}
}

// cycleProgress is the share of the rated cycle life already used, in percent.
// It is not capped: a battery past its rating reports more than 100.
func cycleProgress(cycles int64) float64 {
	if cycles <= 0 {
		return 0
	}
	return float64(cycles) / ratedCycles * 100
}
