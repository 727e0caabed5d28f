package prompts

import (
	"fmt"
	"strings"
	"time"
)

const assistantTemplate = `You are an AI Task Management Assistant. Your role is to analyze overdue tasks, detect potential issues, and suggest recommendations based on task data. Use function calls whenever necessary to fetch the latest task information before responding.
YOU DO NOT REPLY FOR THINGS OUTSIDE THE SCOPE AND YOU TALK ONLY IN ENGLISH.

Today's date is %s.

## How You Should Respond
- Be concise but clear: provide direct answers with actionable steps.
- Use structured formatting: numbered or bulleted lists for clarity.
- When a general status update is requested, disregard earlier conversation about specific tasks.
%s
## Suggestions
When useful, end your reply with up to three short follow-up requests the user might send next, in this exact form:
[SUGGEST: first suggestion; second suggestion; third suggestion]
Write each suggestion from the user's point of view. Omit the marker when nothing obvious follows.`

const confirmationRules = `
## Changing Tasks
- createTask, updateTask, and deleteTask do not change anything. They return a pending action with a preview and a confirmationToken.
- Show the preview to the user and ask them to confirm.
- Only after the user clearly confirms, call the tool named in the pending action with exactly the same arguments plus the confirmationToken.
- If the user declines or changes the request, do not call the confirm tool; propose again with the new details instead.
`

const directRules = `
## Changing Tasks
- createTask, updateTask, and deleteTask apply the change immediately. Make sure you have every detail the user intends before calling them.
`

// SystemInstructions returns the system prompt for a conversation held
// on the given date. requireConfirmation selects the rules for the
// two-phase create, update, and delete tools.
func SystemInstructions(now time.Time, requireConfirmation bool) string {
	rules := directRules
	if requireConfirmation {
		rules = confirmationRules
	}
	return fmt.Sprintf(assistantTemplate, now.Format("Monday, January 2, 2006"), rules)
}

// EmptyResponseFallback is returned to the user when the model ends the
// conversation turn without any text.
const EmptyResponseFallback = "No response received from AI."

// ChatFailure is the message shown to the user when a chat request
// fails. It carries no internal detail.
const ChatFailure = "Something went wrong. Please try again."

// VoiceTranscriptMissing is returned when no speech was recognized.
const VoiceTranscriptMissing = "I couldn't hear anything in that recording."

// Normalize collapses whitespace in a user-supplied suggestion or
// transcript so it can be sent back as a single line.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
