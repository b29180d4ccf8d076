package dialectic

import "testing"

func TestCheckSafetyForbiddenPattern(t *testing.T) {
	v := CheckSafety([]string{"disable the circuit breaker for this agent"})
	if v.Safe {
		t.Fatal("expected unsafe verdict for a forbidden-pattern condition")
	}
	if len(v.Reasons) != 1 {
		t.Fatalf("expected exactly one reason, got %d", len(v.Reasons))
	}
}

func TestCheckSafetyHighThreshold(t *testing.T) {
	v := CheckSafety([]string{"resume once risk > 0.95"})
	if v.Safe {
		t.Fatal("expected unsafe verdict for a risk threshold above 0.90")
	}
}

func TestCheckSafetyAcceptsReasonableConditions(t *testing.T) {
	v := CheckSafety([]string{"cap complexity at 0.5 for the next ten updates", "resume once risk < 0.3"})
	if !v.Safe {
		t.Fatalf("expected safe verdict, got reasons: %v", v.Reasons)
	}
}

func TestSameConditionsOrderInsensitive(t *testing.T) {
	a := []string{"Reduce Complexity", " cap risk "}
	b := []string{"cap risk", "reduce complexity"}
	if !sameConditions(a, b) {
		t.Fatal("expected order/case/whitespace-insensitive match")
	}
}

func TestSameConditionsMismatch(t *testing.T) {
	if sameConditions([]string{"a"}, []string{"a", "b"}) {
		t.Fatal("expected mismatch on differing lengths")
	}
}
