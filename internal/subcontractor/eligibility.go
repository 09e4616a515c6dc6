package subcontractor

import "strings"

// MatchesArea reports whether any configured service area matches the
// customer's area code. Prefix matching in either direction stands in for
// real geocoding: a partner covering "480" serves "4801", and one covering
// "4801" is kept for a customer in "480".
func MatchesArea(serviceAreas []string, areaCode string) bool {
	areaCode = strings.TrimSpace(areaCode)
	if areaCode == "" {
		return false
	}
	for _, area := range serviceAreas {
		area = strings.TrimSpace(area)
		if area == "" {
			continue
		}
		if strings.HasPrefix(areaCode, area) || strings.HasPrefix(area, areaCode) {
			return true
		}
	}
	return false
}

// MatchesSpecialty reports whether a partner handles the service type.
// An empty specialty set means the partner accepts any work.
func MatchesSpecialty(specialties []string, serviceType string) bool {
	if len(specialties) == 0 {
		return true
	}
	for _, s := range specialties {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(serviceType)) {
			return true
		}
	}
	return false
}

// FilterEligible keeps the active partners that cover the area and handle
// the service type.
func FilterEligible(subs []Subcontractor, areaCode, serviceType string) []Subcontractor {
	eligible := make([]Subcontractor, 0, len(subs))
	for _, sub := range subs {
		if !sub.IsActive {
			continue
		}
		if !MatchesArea(sub.ServiceAreas, areaCode) {
			continue
		}
		if !MatchesSpecialty(sub.Specialties, serviceType) {
			continue
		}
		eligible = append(eligible, sub)
	}
	return eligible
}
