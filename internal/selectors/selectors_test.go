package selectors

import (
	"regexp"
	"testing"
)

func TestGetSelectors(t *testing.T) {
	sel := Get()

	if sel == nil {
		t.Fatal("Get() returned nil")
	}

	if sel.ContainerIDPattern == "" {
		t.Error("Expected container ID pattern")
	}

	if sel.LoginUsernameInput == "" || sel.LoginPasswordInput == "" {
		t.Error("Expected login form selectors")
	}

	if len(sel.AppointmentDropdownLabels) == 0 {
		t.Error("Expected appointment dropdown labels")
	}
}

func TestGetSelectorsSingleton(t *testing.T) {
	sel1 := Get()
	sel2 := Get()

	if sel1 != sel2 {
		t.Error("Expected Get() to return the same instance")
	}
}

func TestDefaultSelectors(t *testing.T) {
	sel := defaultSelectors()

	if sel.ContainerIDPattern == "" {
		t.Error("Expected a container ID pattern")
	}

	if _, err := regexp.Compile(sel.ContainerIDPattern); err != nil {
		t.Errorf("container ID pattern does not compile: %v", err)
	}

	expectedLabels := []string{"Move Type", "Equipment Type", "Line", "Own Chassis"}
	if len(sel.AppointmentDropdownLabels) != len(expectedLabels) {
		t.Errorf("Expected %d dropdown labels, got %d", len(expectedLabels), len(sel.AppointmentDropdownLabels))
	}
}

func TestContainerIDPatternMatchesRealIDs(t *testing.T) {
	sel := defaultSelectors()
	re := regexp.MustCompile("^" + sel.ContainerIDPattern + "$")

	valid := []string{"MSCU1234567", "TCLU123456", "HLXU1234567A"}
	for _, id := range valid {
		if !re.MatchString(id) {
			t.Errorf("expected pattern to match container ID %q", id)
		}
	}

	invalid := []string{"12345", "abcdefg1234567"}
	for _, id := range invalid {
		if re.MatchString(id) {
			t.Errorf("expected pattern not to match %q", id)
		}
	}
}
