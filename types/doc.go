// Package types provides the shared data model for the NovelDrive
// conversation core. It is the lowest-level package in the module and has
// zero dependencies on other noveldrive packages; every other package
// imports its contracts from here to avoid circular imports.
//
// The package defines:
//
//   - Agent: a configured conversational persona
//   - ConversationTurn: one entry in the conversation log
//   - DocumentAction: the tagged union of document mutations
//   - NextSpeaker: an agent's choice of who speaks next
//   - Reply: the parsed structured reply of one turn
//   - Session: a document + conversation + roster snapshot
//   - TurnRequest: the unit of work scheduled on the turn queue
//   - TokenUsage: token consumption accounting
//
// Reply and DocumentAction are internal tagged representations; the flat,
// always-present-but-nullable JSON shape required by strict tool-call
// validation lives behind the translation boundary in wire.go.
package types
