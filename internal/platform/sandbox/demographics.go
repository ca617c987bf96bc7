// Package sandbox produces reproducible synthetic demographics for
// scenarios that are materialized without a demonstration case.
package sandbox

import (
	"math/rand"
	"sync"
	"time"
)

var (
	firstNamesMale = []string{
		"Jean", "Pierre", "Michel", "Philippe", "Alain", "Nicolas", "Louis",
		"Paul", "Julien", "Thomas", "Hugo", "Lucas", "Antoine", "Mathieu",
		"Olivier", "Bernard", "Christophe", "Maxime", "Gabriel", "Arthur",
	}
	firstNamesFemale = []string{
		"Marie", "Nathalie", "Isabelle", "Sylvie", "Catherine", "Camille",
		"Sophie", "Julie", "Claire", "Emma", "Chloe", "Lea", "Manon",
		"Sandrine", "Valerie", "Anne", "Louise", "Alice", "Juliette", "Ines",
	}
	lastNames = []string{
		"MARTIN", "BERNARD", "THOMAS", "PETIT", "ROBERT", "RICHARD",
		"DURAND", "DUBOIS", "MOREAU", "LAURENT", "SIMON", "MICHEL",
		"LEFEBVRE", "LEROY", "ROUX", "DAVID", "BERTRAND", "MOREL",
		"FOURNIER", "GIRARD", "BONNET", "DUPONT", "LAMBERT", "FONTAINE",
	}
)

// Person is a synthetic patient identity.
type Person struct {
	Family    string
	Given     string
	Sex       string // M or F
	BirthDate time.Time
}

// DataGenerator draws synthetic people from a seeded source. It is safe for
// concurrent use.
type DataGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) randomDate(minYear, maxYear int) time.Time {
	y := minYear + g.rng.Intn(maxYear-minYear+1)
	m := time.Month(1 + g.rng.Intn(12))
	d := 1 + g.rng.Intn(28) // safe for all months
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Person draws one identity.
func (g *DataGenerator) Person() Person {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := Person{Family: g.pick(lastNames)}
	if g.rng.Intn(2) == 0 {
		p.Given = g.pick(firstNamesMale)
		p.Sex = "M"
	} else {
		p.Given = g.pick(firstNamesFemale)
		p.Sex = "F"
	}
	p.BirthDate = g.randomDate(1940, 2010)
	return p
}
