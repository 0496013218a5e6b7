package orchestrator

import "testing"

func TestClassifyTask(t *testing.T) {
	cases := []struct {
		name        string
		milestone   string
		title       string
		description string
		want        string
	}{
		{"debug wins over generic", "Bugfixing", "investigate flaky login test", "", TaskTypeHardDebug},
		{"refactor", "Cleanup", "refactor the session store", "", TaskTypeComplexRefactor},
		{"scaffold", "Setup", "bootstrap project structure", "", TaskTypeScaffold},
		{"unit test", "Testing", "write tests for the parser", "", TaskTypeUnitTest},
		{"readme", "Docs", "update the README", "", TaskTypeReadmePolish},
		{"crud", "API", "add CRUD endpoint for users", "", TaskTypeCRUD},
		{"unmatched falls back to general", "Misc", "do a thing", "nothing special here", TaskTypeGeneral},
		{"description alone can match", "Misc", "task", "this requires a database table migration", TaskTypeCRUD},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ClassifyTask(c.milestone, c.title, c.description)
			if got != c.want {
				t.Errorf("ClassifyTask(%q, %q, %q) = %q, want %q", c.milestone, c.title, c.description, got, c.want)
			}
		})
	}
}
