// Package llm defines the unified language-model provider contract the
// orchestrator consumes, together with the error taxonomy shared by all
// adapters. Concrete adapters live in subpackages (see llm/openai); network,
// auth and retry concerns stay inside them. The orchestrator only ever sees
// Completion responses and typed *Error values.
package llm
