// Package topics holds the read-only catalog of exam topics and their
// expected three-part outlines.
package topics

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/pavelanni/oralexam/internal/model"
)

// Catalog is the fixed set of topic plans available for an exam run.
// It is loaded once at startup and read-only afterwards.
type Catalog struct {
	plans map[string]model.TopicPlan
}

// Load reads topic plans from the given JSON files. Each file holds an array
// of {topic, introduction, body, conclusion} objects. A topic appearing in
// more than one file keeps the last definition.
func Load(paths []string) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]model.TopicPlan)}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var plans []model.TopicPlan
		if err := json.Unmarshal(data, &plans); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, p := range plans {
			if p.Topic == "" {
				return nil, fmt.Errorf("%s: topic plan with empty topic name", path)
			}
			c.plans[p.Topic] = p
		}
	}
	if len(c.plans) == 0 {
		return nil, fmt.Errorf("no topic plans loaded from %v", paths)
	}
	return c, nil
}

// FromPlans builds a catalog from in-memory plans.
func FromPlans(plans []model.TopicPlan) *Catalog {
	c := &Catalog{plans: make(map[string]model.TopicPlan, len(plans))}
	for _, p := range plans {
		c.plans[p.Topic] = p
	}
	return c
}

// Get returns the plan for a topic name.
func (c *Catalog) Get(topic string) (model.TopicPlan, bool) {
	p, ok := c.plans[topic]
	return p, ok
}

// List returns all plans ordered by topic name.
func (c *Catalog) List() []model.TopicPlan {
	out := make([]model.TopicPlan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Len returns the number of topics in the catalog.
func (c *Catalog) Len() int {
	return len(c.plans)
}
