// Package prompts holds the instructions taskmate sends to the language
// model.
//
// Prompt text is Go code rather than config because it is program
// logic: it is interpolated with fmt.Sprintf, tied to the tool catalog,
// and checked by tests. Each prompt gets an exported function taking
// its dynamic parts and returning the finished string.
package prompts
