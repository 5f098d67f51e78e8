package compliance

import "fmt"

// EnrollmentProgress is what the enrollment certificate is judged on.
type EnrollmentProgress struct {
	CumulativeMinutes int
	CompletedUnits    []string
	RequiredUnits     []string
}

// EnrollmentEligibility is the outcome of CheckEnrollment.
type EnrollmentEligibility struct {
	Eligible            bool
	MinutesRemaining    int
	MissingUnits        []string
	MissingRequirements []string
}

// CheckEnrollment applies the enrollment certificate rule: at least
// EnrollmentCertificateMinutes of instruction and every required unit done.
func CheckEnrollment(p EnrollmentProgress) EnrollmentEligibility {
	done := make(map[string]bool, len(p.CompletedUnits))
	for _, u := range p.CompletedUnits {
		done[u] = true
	}

	out := EnrollmentEligibility{MissingUnits: []string{}, MissingRequirements: []string{}}
	if p.CumulativeMinutes < EnrollmentCertificateMinutes {
		out.MinutesRemaining = EnrollmentCertificateMinutes - p.CumulativeMinutes
		out.MissingRequirements = append(out.MissingRequirements,
			fmt.Sprintf("Minimum %d minutes required (%d completed)", EnrollmentCertificateMinutes, p.CumulativeMinutes))
	}
	for _, u := range p.RequiredUnits {
		if !done[u] {
			out.MissingUnits = append(out.MissingUnits, u)
			out.MissingRequirements = append(out.MissingRequirements, fmt.Sprintf("Unit %s must be completed", u))
		}
	}
	out.Eligible = len(out.MissingRequirements) == 0
	return out
}
