package models

import "testing"

func TestIntentHash_NormalizesBeforeHashing(t *testing.T) {
	base := IntentHash("roof repair near me")
	cases := []string{
		"Roof Repair Near Me",
		"  roof repair near me  ",
		"ROOF REPAIR NEAR ME",
	}
	for _, in := range cases {
		if got := IntentHash(in); got != base {
			t.Fatalf("IntentHash(%q) = %s, expected same hash as normalized form", in, got)
		}
	}
	if IntentHash("roof replacement near me") == base {
		t.Fatalf("different intents must not collide on the obvious case")
	}
}
