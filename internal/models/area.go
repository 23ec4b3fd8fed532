package models

import "strings"

// Area is one of the fixed skill domains an exercise trains.
type Area string

const (
	AreaOccupationalTherapy Area = "occupationalTherapy"
	AreaSpeechTherapy       Area = "speechTherapy"
	AreaCognitive           Area = "cognitive"
)

// AllAreas lists every area in display order.
var AllAreas = []Area{AreaOccupationalTherapy, AreaSpeechTherapy, AreaCognitive}

var areaAliases = map[string]Area{
	"occupationaltherapy": AreaOccupationalTherapy,
	"ot":                  AreaOccupationalTherapy,
	"speechtherapy":       AreaSpeechTherapy,
	"speech":              AreaSpeechTherapy,
	"cognitive":           AreaCognitive,
}

// ParseArea resolves a client supplied area name. Matching ignores case and
// accepts the short aliases older clients send.
func ParseArea(raw string) (Area, bool) {
	a, ok := areaAliases[strings.ToLower(strings.TrimSpace(raw))]
	return a, ok
}

// Valid reports whether a is one of the canonical area names.
func (a Area) Valid() bool {
	for _, known := range AllAreas {
		if a == known {
			return true
		}
	}
	return false
}
