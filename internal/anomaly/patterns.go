package anomaly

import (
	"regexp"
	"strings"
)

// Pattern table for line classification. Patterns are compiled once at
// package init and matched after ANSI stripping; a line that matches nothing
// simply passes through unclassified.
var (
	// tokenOverflowPattern matches the API rejection for an oversized
	// prompt, capturing the offending token count and the model limit.
	tokenOverflowPattern = regexp.MustCompile(`prompt token count of (\d+) exceeds the limit of (\d+)`)

	// modelNotSupportedPattern matches provider rejections of the requested
	// model. These usually indicate an external configuration problem
	// rather than misbehavior of the process itself.
	modelNotSupportedPattern = regexp.MustCompile(`(?i)model[^.]{0,80}?not (?:supported|found|available)|model_not_found|unsupported model`)

	// streamDeathPattern matches the runner reporting that an output stream
	// ended without a terminal event.
	streamDeathPattern = regexp.MustCompile(`(?i)stream (?:completed|ended|closed) without (?:a )?terminal event`)

	// sessionDonePattern matches explicit termination markers. Once one is
	// seen the process is dead and no further lines are classified.
	sessionDonePattern = regexp.MustCompile(`(?i)^\s*done\.?\s*$|"type"\s*:\s*"task_complete"|"subtype"\s*:\s*"success"`)

	// Tool invocation structure. The call id changes on every invocation
	// and must not influence the loop fingerprint.
	toolUsePattern    = regexp.MustCompile(`"type"\s*:\s*"tool_use"`)
	toolNamePattern   = regexp.MustCompile(`"name"\s*:\s*"([^"]+)"`)
	toolInputPattern  = regexp.MustCompile(`"input"\s*:\s*(\{.*\})`)
	toolCallIDPattern = regexp.MustCompile(`"id"\s*:\s*"[^"]*"\s*,?`)

	// nestedPromptPattern matches tool input carrying a prompt payload,
	// which indicates a spawned subagent.
	nestedPromptPattern = regexp.MustCompile(`"prompt"\s*:\s*"`)

	// toolFailurePattern matches tool results reporting an error.
	toolFailurePattern = regexp.MustCompile(`"is_error"\s*:\s*true|tool_use_error`)

	// rebaseContinuePattern counts rebase continuation attempts. An abort
	// resolves the rebase and intentionally does not match.
	rebaseContinuePattern = regexp.MustCompile(`git rebase --continue`)

	// gitPushPattern counts push invocations.
	gitPushPattern = regexp.MustCompile(`git push\b`)

	// thinkingPattern extracts streamed reasoning text.
	thinkingPattern = regexp.MustCompile(`"thinking"\s*:\s*"((?:[^"\\]|\\.)*)"`)

	// selfDebugPattern matches reasoning that suggests the agent is
	// debugging its own earlier output.
	selfDebugPattern = regexp.MustCompile(`(?i)let me debug|why is this failing|something is wrong|what went wrong|still failing`)

	// commandExitPattern captures the exit code of a completed command.
	commandExitPattern = regexp.MustCompile(`(?i)(?:exit(?:ed)?(?: with)? (?:code|status)|"exit_code")\s*[:=]?\s*(-?\d+)`)

	// whitespacePattern collapses formatting differences before fingerprint
	// comparison.
	whitespacePattern = regexp.MustCompile(`\s+`)

	// ansiPattern matches CSI sequences (ESC[...letter) and OSC sequences
	// (ESC]...BEL).
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]|\x1b\][^\x07]*\x07`)
)

// Tools that legitimately repeat against the same target, such as
// incremental edits and re-reads of a file under construction. Loop
// thresholds are tripled for these.
var iterativeTools = map[string]bool{
	"edit":         true,
	"multiedit":    true,
	"notebookedit": true,
	"write":        true,
	"read":         true,
	"str_replace":  true,
}

// Operational phrases that legitimately repeat while polling or waiting on
// long-running commands. These never count toward thought spinning.
var benignThoughtPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)waiting for`),
	regexp.MustCompile(`(?i)running .*tests`),
	regexp.MustCompile(`(?i)still (?:running|working)`),
}

// StripAnsi removes ANSI escape codes from text.
func StripAnsi(text string) string {
	return ansiPattern.ReplaceAllString(text, "")
}

// toolCall extracts the tool name and loop fingerprint from a tool_use
// line. The fingerprint covers the tool name and its normalized input, so
// two calls compare equal only when they would do the same thing again.
func toolCall(text string) (name, fingerprint string, ok bool) {
	if !toolUsePattern.MatchString(text) {
		return "", "", false
	}
	m := toolNamePattern.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	name = m[1]
	input := ""
	if im := toolInputPattern.FindStringSubmatch(text); im != nil {
		input = im[1]
	}
	return name, name + "|" + normalizeToolInput(input), true
}

// normalizeToolInput strips id fields and whitespace so repeated identical
// calls produce identical fingerprints regardless of call id or formatting.
func normalizeToolInput(input string) string {
	input = toolCallIDPattern.ReplaceAllString(input, "")
	return whitespacePattern.ReplaceAllString(input, "")
}

// isIterativeTool reports whether the named tool belongs to the edit/read
// family with relaxed loop thresholds.
func isIterativeTool(name string) bool {
	return iterativeTools[strings.ToLower(name)]
}

// benignThought reports whether reasoning text matches the exclusion list.
func benignThought(text string) bool {
	for _, p := range benignThoughtPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
