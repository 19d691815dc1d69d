package prompt

// Built-in stage instructions. Each stage sends its instruction as the
// system message and the text under transformation as the user message, and
// each demands a bare JSON payload so responses survive the bracket
// extraction contract even when the model wraps them in prose or fences.
var defaultPrompts = map[string]string{
	StageValidation: `You screen free-text input for a business-rule automation system.
Decide whether the input is a coherent business-rule statement: it must describe at least
one condition, action, or schedule that a system could enforce. Greetings, questions,
code fragments and random text are invalid.
Respond with a single JSON object: {"valid": <true|false>, "reason": "<short reason>"}`,

	StageDecomposition: `Split the business-rule statement into its independent rule segments.
Each segment must be a self-contained fragment preserving the original wording as closely
as possible. Do not paraphrase, summarize, merge or drop anything; every clause of the
input must land in exactly one segment, in the original order.
Respond with a JSON array of segment strings only.`,

	StageConditionExtraction: `Extract every condition from the rule segment.
A condition is a circumstance that must hold before an action applies ("if", "when",
"unless", thresholds, customer attributes). Keep the original wording of each condition.
Respond with a JSON array of condition strings only. Return [] when the segment has none.`,

	StageScheduleExtraction: `Extract the execution schedule from the rule statement, if any.
A schedule says when or how often the rule runs ("every friday", "at month end",
"daily at 9am"). Keep the original wording.
Respond with a single JSON object: {"schedule": "<schedule text, empty string if none>"}`,

	StageRuleConversion: `Rewrite the rule segment into canonical if/then phrasing:
"if <conditions> then <action>". Preserve every condition, action, amount and
qualifier from the segment; change only sentence structure.
Respond with a single JSON object: {"rule": "<canonical rule>"}`,

	StageUnifiedRule: `Merge the canonical rule segments below into one unified rule statement.
Preserve every condition and action; connect the segments with the logical relationship
the original statement implies. Do not invent or drop anything.
Respond with a single JSON object: {"rule": "<unified rule statement>"}`,

	StageActionExtraction: `Extract the action from the rule segment: what the system must do
when the conditions hold. Name the action briefly and carry its parameters (amounts,
percentages, targets) as details, preserving original values.
Respond with a single JSON object: {"action": "<short action name>", "details": "<parameters, empty if none>"}`,
}

// Defaults returns a copy of the built-in stage instruction map.
func Defaults() map[string]string {
	out := make(map[string]string, len(defaultPrompts))
	for k, v := range defaultPrompts {
		out[k] = v
	}
	return out
}
