package shape

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	firstNames = []string{"Alex", "Jordan", "Sam", "Taylor", "Morgan", "Casey", "Riley", "Quinn"}
	lastNames  = []string{"Rivera", "Chen", "Okafor", "Novak", "Haddad", "Larsen", "Ito", "Mendes"}
	streets    = []string{"Maple St", "Oak Ave", "Cedar Rd", "Birch Ln", "Elm Dr", "Pine Ct"}
	domains    = []string{"example.com", "example.org", "example.net"}
	agents     = []string{
		"Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/124.0",
	}
)

// Generator produces deterministic records for a schema: the same report id
// always yields the same fixtures, so replayed shape messages converge.
type Generator struct {
	rng *rand.Rand
	// ids tracks generated primary ids per table for foreign keys.
	ids map[string][]string
}

// NewGenerator seeds a generator from the report id.
func NewGenerator(reportID string) *Generator {
	var h = fnv.New64a()
	_, _ = h.Write([]byte(reportID))
	return &Generator{
		rng: rand.New(rand.NewSource(int64(h.Sum64()))),
		ids: map[string][]string{},
	}
}

// Records generates |count| rows per table. Tables are processed in name
// order so foreign keys resolve deterministically; a key referencing a
// table generated later (or never) receives a fresh id, which the
// integrity pass will flag.
func (g *Generator) Records(schema Schema, count int) map[string][]map[string]interface{} {
	var tables = make([]string, 0, len(schema))
	for table := range schema {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	var out = make(map[string][]map[string]interface{}, len(tables))
	for _, table := range tables {
		for i := 0; i != count; i++ {
			var id = g.uuid()
			g.ids[table] = append(g.ids[table], id)

			var record = map[string]interface{}{"id": id}
			for _, field := range sortedFields(schema[table]) {
				record[field] = g.value(field, schema[table][field])
			}
			out[table] = append(out[table], record)
		}
	}
	return out
}

func (g *Generator) value(name string, field Field) interface{} {
	if name == "user_agent" {
		return g.pick(agents)
	}
	switch field.Type {
	case FieldEmail:
		return fmt.Sprintf("%s.%s@%s",
			strings.ToLower(g.pick(firstNames)), strings.ToLower(g.pick(lastNames)), g.pick(domains))
	case FieldName:
		return g.pick(firstNames) + " " + g.pick(lastNames)
	case FieldPhone:
		return fmt.Sprintf("+1-555-%04d", g.rng.Intn(10000))
	case FieldAddress:
		return fmt.Sprintf("%d %s", 1+g.rng.Intn(9999), g.pick(streets))
	case FieldDate:
		var base = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		return base.AddDate(0, 0, g.rng.Intn(365*5)).Format("2006-01-02")
	case FieldNumber:
		return 1 + g.rng.Intn(1000)
	case FieldBoolean:
		return g.rng.Intn(2) == 1
	case FieldUUID:
		return g.uuid()
	case FieldForeignKey:
		if ids := g.ids[field.References]; len(ids) > 0 {
			return ids[g.rng.Intn(len(ids))]
		}
		return g.uuid()
	default:
		return fmt.Sprintf("value-%d", g.rng.Intn(1000))
	}
}

func (g *Generator) uuid() string {
	var raw [16]byte
	_, _ = g.rng.Read(raw[:])
	var id, err = uuid.FromBytes(raw[:])
	if err != nil {
		return uuid.Nil.String()
	}
	return id.String()
}

func (g *Generator) pick(from []string) string {
	return from[g.rng.Intn(len(from))]
}

func sortedFields(fields map[string]Field) []string {
	var out = make([]string, 0, len(fields))
	for name := range fields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
