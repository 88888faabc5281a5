package metrics

import "strings"

const metricPrefix = "trustify_"

// MetricName prefixes name with the trustify namespace unless already present.
func MetricName(name string) string {
	if strings.HasPrefix(name, metricPrefix) {
		return name
	}
	return metricPrefix + name
}

// MetricNameWithSubsystem builds trustify_<subsystem>_<name>.
func MetricNameWithSubsystem(subsystem, name string) string {
	subsystem = strings.Trim(subsystem, "_")
	name = strings.Trim(name, "_")
	switch {
	case subsystem == "":
		return MetricName(name)
	case name == "":
		return MetricName(subsystem)
	default:
		return MetricName(subsystem + "_" + name)
	}
}

// DurationBuckets are the latency boundaries, in seconds, shared by
// transaction and pool wait histograms.
var DurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
