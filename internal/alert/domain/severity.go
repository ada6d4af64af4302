package domain

// AssignSeverity derives severity from the alert's own evidence.
func AssignSeverity(d Details) Severity {
	switch v := d.(type) {
	case DeviceLimitDetails:
		if v.Overflow <= 1 {
			return SeverityMedium
		}
		return SeverityHigh
	case ConcurrentUseDetails:
		if v.CountriesDiffer() {
			return SeverityCritical
		}
		return SeverityHigh
	case SuspiciousLocationDetails:
		return SeverityMedium
	case RapidActivationDetails:
		return SeverityMedium
	}
	return SeverityLow
}
