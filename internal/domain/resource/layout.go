package resource

import (
	"fmt"
	"time"
)

// Block describes a run of identically configured units.
type Block struct {
	Prefix    string
	Zone      string
	Category  Category
	Gender    Gender
	Isolation bool
	Count     int
	Doctors   []string
}

// DefaultLayout is the reference hospital floor plan used by the seed
// command and the in-memory store.
var DefaultLayout = []Block{
	{Prefix: "ICU", Zone: "icu", Category: CategoryCriticalCare, Gender: GenderAny, Count: 20},
	{Prefix: "ER", Zone: "er", Category: CategoryEmergency, Gender: GenderAny, Count: 60},
	{Prefix: "SURG", Zone: "theatre", Category: CategorySurgical, Gender: GenderAny, Count: 10},
	{Prefix: "WARD-MED-M", Zone: "medical", Category: CategoryWard, Gender: GenderMale, Count: 20},
	{Prefix: "WARD-MED-F", Zone: "medical", Category: CategoryWard, Gender: GenderFemale, Count: 20},
	{Prefix: "WARD-PED", Zone: "pediatric", Category: CategoryWard, Gender: GenderAny, Count: 15},
	{Prefix: "WARD-MAT", Zone: "maternity", Category: CategoryWard, Gender: GenderFemale, Count: 15},
	{Prefix: "WARD-HDU", Zone: "hdu", Category: CategoryWard, Gender: GenderAny, Count: 10},
	{Prefix: "WARD-DC", Zone: "daycare", Category: CategoryWard, Gender: GenderAny, Count: 10},
	{Prefix: "WARD-ISO", Zone: "isolation", Category: CategoryWard, Gender: GenderAny, Isolation: true, Count: 5},
	{Prefix: "WARD-SEMIP", Zone: "semi-private", Category: CategoryWard, Gender: GenderAny, Count: 5},
	{Prefix: "OPD", Zone: "outpatient", Category: CategoryConsultation, Gender: GenderAny, Count: 6,
		Doctors: []string{"Dr. Mehta", "Dr. Rao", "Dr. Fernandes", "Dr. Iyer", "Dr. Khan", "Dr. Das"}},
}

// Expand materializes blocks into units in their initial state. Positions
// are assigned in block order so searches fill units front to back.
func Expand(blocks []Block, now time.Time) []Unit {
	var units []Unit
	pos := 0
	for _, b := range blocks {
		for i := 1; i <= b.Count; i++ {
			pos++
			u := Unit{
				ID:        fmt.Sprintf("%s-%d", b.Prefix, i),
				Category:  b.Category,
				Gender:    b.Gender,
				Isolation: b.Isolation,
				Zone:      b.Zone,
				Position:  pos,
				State:     InitialState(b.Category),
				UpdatedAt: now,
			}
			if i <= len(b.Doctors) {
				u.DoctorName = b.Doctors[i-1]
			}
			units = append(units, u)
		}
	}
	return units
}
