// Package priority computes the urgency score that orders the waiting room.
//
// A score is a pure function of an entry's triage signals and the current
// time. The wait component grows without bound, so an entry that is not
// served keeps rising until it outranks later arrivals.
package priority

import (
	"math"
	"strings"
	"time"
)

// Signals are the inputs the scorer reads from a waiting entry.
type Signals struct {
	AcuityLevel int
	// Chapter is the leading letter of a validated diagnosis code, or empty.
	Chapter   string
	Symptoms  []string
	ArrivedAt time.Time
}

var chapterWeights = map[byte]float64{
	'I': 40,
	'J': 35,
	'S': 30,
	'T': 30,
	'G': 25,
	'E': 20,
	'A': 15,
	'B': 15,
	'L': 5,
}

const otherChapterWeight = 10

type symptomBonus struct {
	phrase string
	points float64
}

var symptomBonuses = []symptomBonus{
	{"chest pain", 25},
	{"shortness of breath", 20},
}

// ChapterWeight returns the bonus for a diagnosis chapter letter.
func ChapterWeight(chapter string) float64 {
	if len(chapter) != 1 {
		return 0
	}
	c := chapter[0]
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	if c < 'A' || c > 'Z' {
		return 0
	}
	if w, ok := chapterWeights[c]; ok {
		return w
	}
	return otherChapterWeight
}

// ClampAcuity forces a level into 1..5.
func ClampAcuity(level int) int {
	if level < 1 {
		return 1
	}
	if level > 5 {
		return 5
	}
	return level
}

// Breakdown itemizes a score.
type Breakdown struct {
	Base    float64 `json:"base"`
	Code    float64 `json:"code"`
	Symptom float64 `json:"symptom"`
	Wait    float64 `json:"wait"`
	Total   float64 `json:"total"`
}

// Explain computes the score with its components.
func Explain(s Signals, now time.Time) Breakdown {
	b := Breakdown{
		Base:    float64(6-ClampAcuity(s.AcuityLevel)) * 20,
		Code:    ChapterWeight(s.Chapter),
		Symptom: SymptomBonus(s.Symptoms),
		Wait:    WaitBonus(s.ArrivedAt, now),
	}
	b.Total = b.Base + b.Code + b.Symptom + b.Wait
	return b
}

// Score returns the priority score of s at now.
func Score(s Signals, now time.Time) float64 {
	return Explain(s, now).Total
}

// SymptomBonus awards each listed phrase once if any symptom mentions it.
func SymptomBonus(symptoms []string) float64 {
	var total float64
	for _, sb := range symptomBonuses {
		for _, s := range symptoms {
			if strings.Contains(strings.ToLower(s), sb.phrase) {
				total += sb.points
				break
			}
		}
	}
	return total
}

// WaitBonus is one point per two whole minutes waited. Clock skew that puts
// arrival in the future counts as zero.
func WaitBonus(arrivedAt, now time.Time) float64 {
	if arrivedAt.IsZero() || !now.After(arrivedAt) {
		return 0
	}
	minutes := now.Sub(arrivedAt).Minutes()
	return math.Floor(minutes / 2)
}
