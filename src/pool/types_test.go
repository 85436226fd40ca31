package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.com/crypto_project/core/resourcepool_service/src/resource"
)

func attrResource(attrs map[string]string) *resource.Resource {
	return resource.New(resource.Seed{ID: "r", Attributes: attrs})
}

func TestFilterMatch(t *testing.T) {
	r := attrResource(map[string]string{
		"region":  "eu-west",
		"tier":    "premium",
		"latency": "120",
	})

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"eq match", Filter{Attribute: "tier", Op: "eq", Value: "premium"}, true},
		{"eq miss", Filter{Attribute: "tier", Op: "eq", Value: "basic"}, false},
		{"empty op means eq", Filter{Attribute: "tier", Value: "premium"}, true},
		{"neq", Filter{Attribute: "tier", Op: "neq", Value: "basic"}, true},
		{"contains", Filter{Attribute: "region", Op: "contains", Value: "west"}, true},
		{"contains miss", Filter{Attribute: "region", Op: "contains", Value: "east"}, false},
		{"in", Filter{Attribute: "region", Op: "in", Value: "us-east, eu-west"}, true},
		{"in miss", Filter{Attribute: "region", Op: "in", Value: "us-east,ap-south"}, false},
		{"gte", Filter{Attribute: "latency", Op: "gte", Value: "100"}, true},
		{"gte miss", Filter{Attribute: "latency", Op: "gte", Value: "200"}, false},
		{"lte", Filter{Attribute: "latency", Op: "lte", Value: "200"}, true},
		{"numeric op on non-numeric", Filter{Attribute: "tier", Op: "gte", Value: "1"}, false},
		{"unknown op fails closed", Filter{Attribute: "tier", Op: "like", Value: "premium"}, false},
		{"absent attribute", Filter{Attribute: "ghost", Op: "eq", Value: "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Match(r))
		})
	}
}

func TestPoolViewSnapshot(t *testing.T) {
	p := newPool(Spec{
		ID:                     "p1",
		ResourceIDs:            []string{"a", "b"},
		HealthCheckIntervalSec: 45,
		IsActive:               true,
	})
	p.addResource("c")

	v := p.View()
	assert.Equal(t, "p1", v.ID)
	assert.Equal(t, []string{"a", "b", "c"}, v.ResourceIDs)
	assert.Equal(t, 45, v.HealthCheckIntervalSec)
	assert.True(t, v.IsActive)

	// the snapshot is detached from the pool
	v.ResourceIDs[0] = "mutated"
	assert.Equal(t, []string{"a", "b", "c"}, p.ResourceIDs())
}
