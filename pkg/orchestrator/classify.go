package orchestrator

import "strings"

// Task-type tags the Worker attaches to a tool-loop run so the Provider
// Router can route it to a model suited for that kind of work.
const (
	TaskTypeScaffold       = "scaffold"
	TaskTypeCRUD           = "crud"
	TaskTypeUnitTest       = "unit_test"
	TaskTypeReadmePolish   = "readme_polish"
	TaskTypeHardDebug      = "hard_debug"
	TaskTypeComplexRefactor = "complex_refactor"
	TaskTypePlanning       = "planning"
	TaskTypeGeneral        = "general"
)

// classifierRule pairs a task type with the keywords that select it. Rules
// are tried in order; the first match wins, so more specific rules (hard
// debug, complex refactor) are listed ahead of generic ones (crud).
var classifierRules = []struct {
	taskType string
	keywords []string
}{
	{TaskTypeHardDebug, []string{"debug", "flaky", "race condition", "investigate", "root cause", "regression"}},
	{TaskTypeComplexRefactor, []string{"refactor", "redesign", "migrate", "restructure", "rearchitect"}},
	{TaskTypeScaffold, []string{"scaffold", "bootstrap", "initialize", "project structure", "skeleton", "set up"}},
	{TaskTypeUnitTest, []string{"unit test", "test coverage", "write tests", "add tests", "test suite"}},
	{TaskTypeReadmePolish, []string{"readme", "documentation", "docs", "changelog"}},
	{TaskTypeCRUD, []string{"crud", "endpoint", "api route", "create, read, update", "model", "schema", "database table"}},
}

// ClassifyTask applies keyword heuristics to a task's milestone, title, and
// description and returns the task-type tag that best matches. Unmatched
// text classifies as general.
func ClassifyTask(milestone, title, description string) string {
	haystack := strings.ToLower(milestone + " " + title + " " + description)
	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				return rule.taskType
			}
		}
	}
	return TaskTypeGeneral
}
