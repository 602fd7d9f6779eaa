package vecindex

import (
	"testing"
)

func TestEligibleNeighborFilter(t *testing.T) {
	filter := eligibleNeighborFilter(7).Build()

	if filter.Operator != "And" {
		t.Fatalf("expected And operator, got %s", filter.Operator)
	}
	if len(filter.Operands) != 2 {
		t.Fatalf("expected 2 operands, got %d", len(filter.Operands))
	}

	site := filter.Operands[0]
	if len(site.Path) != 1 || site.Path[0] != "site_id" {
		t.Fatalf("first operand must filter site_id, got path %v", site.Path)
	}
	if site.Operator != "Equal" || site.ValueInt == nil || *site.ValueInt != 7 {
		t.Fatalf("site filter must be Equal 7, got %s %v", site.Operator, site.ValueInt)
	}

	status := filter.Operands[1]
	if len(status.Path) != 1 || status.Path[0] != "status" {
		t.Fatalf("second operand must filter status, got path %v", status.Path)
	}
	if status.Operator != "ContainsAny" {
		t.Fatalf("status filter must use ContainsAny, got %s", status.Operator)
	}
	want := map[string]bool{"published": true, "approved": true}
	if len(status.ValueTextArray) != len(want) {
		t.Fatalf("expected %d eligible statuses, got %v", len(want), status.ValueTextArray)
	}
	for _, s := range status.ValueTextArray {
		if !want[s] {
			t.Fatalf("unexpected eligible status %q", s)
		}
	}
}
