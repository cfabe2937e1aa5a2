package matcher

import (
	"testing"

	"signalbet/internal/models"
)

func TestMatch_FirstActiveInOrderWins(t *testing.T) {
	rules := []models.Rule{
		{ID: 1, Active: false, Trigger: "Entrada:"},
		{ID: 2, Active: true, Trigger: "Futebol Studio"},
		{ID: 3, Active: true, Trigger: "Entrada: Futebol Studio - Casa"},
	}
	msg := models.Message{Content: "Entrada: Futebol Studio - Casa"}
	for i := 0; i < 3; i++ {
		got := Match(msg, rules)
		if got == nil || got.ID != 2 {
			t.Fatalf("run %d: got=%v want rule 2", i, got)
		}
	}
}

func TestMatch_CaseSensitive(t *testing.T) {
	rules := []models.Rule{{ID: 1, Active: true, Trigger: "Casa"}}
	if got := Match(models.Message{Content: "entrada casa"}, rules); got != nil {
		t.Fatalf("got=%v want nil", got)
	}
}

func TestMatch_NoRuleOrEmptyTrigger(t *testing.T) {
	rules := []models.Rule{{ID: 1, Active: true, Trigger: ""}, {ID: 2, Active: true, Trigger: "Fora"}}
	if got := Match(models.Message{Content: "Entrada: Casa"}, rules); got != nil {
		t.Fatalf("got=%v want nil", got)
	}
	if got := Match(models.Message{Content: "anything"}, nil); got != nil {
		t.Fatalf("got=%v want nil", got)
	}
}
