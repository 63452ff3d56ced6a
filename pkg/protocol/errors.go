// Copyright 2025 Inlet Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import "fmt"

// Stable error codes, grouped by prefix. Codes are part of the public
// contract; renaming one is a breaking change.
const (
	// Tool errors
	ErrToolValidation   = "TOOL_VALIDATION_FAILED"
	ErrToolExecution    = "TOOL_EXECUTION_FAILED"
	ErrToolTimeout      = "TOOL_TIMEOUT"
	ErrToolNotFound     = "TOOL_NOT_FOUND"
	ErrToolWritePartial = "TOOL_WRITE_PARTIAL"
	ErrToolConflict     = "TOOL_EDIT_CONFLICT"
	ErrToolSecurity     = "TOOL_SECURITY_VIOLATION"
	ErrToolLimit        = "TOOL_LIMIT_EXCEEDED"

	// Adapter errors
	ErrAdapterConnection      = "ADAPTER_CONNECTION_FAILED"
	ErrAdapterTimeout         = "ADAPTER_TIMEOUT"
	ErrAdapterExecution       = "ADAPTER_EXECUTION_FAILED"
	ErrAdapterInvalidResponse = "ADAPTER_INVALID_RESPONSE"
	ErrAdapterServer          = "ADAPTER_SERVER_ERROR"
	ErrAdapterUnknownAction   = "ADAPTER_UNKNOWN_ACTION"
	ErrCircuitOpen            = "CIRCUIT_OPEN"

	// Hook errors
	ErrHookBlocked    = "HOOK_BLOCKED"
	ErrHookPreFailed  = "HOOK_PRE_FAILED"
	ErrHookPostFailed = "HOOK_POST_FAILED"
	ErrHookValidation = "HOOK_VALIDATION_FAILED"

	// Agent errors
	ErrAgentGeneration    = "AGENT_GENERATION_FAILED"
	ErrAgentExecution     = "AGENT_EXECUTION_FAILED"
	ErrAgentMaxIterations = "AGENT_MAX_ITERATIONS"
	ErrAgentTimeout       = "AGENT_TIMEOUT"
	ErrAgentCancelled     = "AGENT_CANCELLED"
	ErrAgentStream        = "AGENT_STREAM_FAILED"
	ErrAgentAPIKeyMissing = "AGENT_API_KEY_MISSING"
	ErrAgentOverflow      = "AGENT_CONTEXT_OVERFLOW"

	// Validation errors
	ErrValidationMissing = "VALIDATION_MISSING_FIELD"
	ErrValidationType    = "VALIDATION_INVALID_TYPE"
	ErrValidationFormat  = "VALIDATION_INVALID_FORMAT"
	ErrValidationRange   = "VALIDATION_OUT_OF_RANGE"
)

// recoverableCodes is the fixed allowlist of codes an agent may retry after.
var recoverableCodes = map[string]bool{
	ErrToolTimeout:      true,
	ErrToolWritePartial: true,
	ErrToolConflict:     true,
	ErrAdapterTimeout:   true,
	ErrCircuitOpen:      true,
}

// AgentError is the uniform error record crossing component boundaries.
type AgentError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAgentError builds an error with recoverability derived from the
// allowlist.
func NewAgentError(code, message string) *AgentError {
	return &AgentError{Code: code, Message: message, Recoverable: recoverableCodes[code]}
}

// IsRecoverable reports whether the code is in the recoverable allowlist.
func IsRecoverable(code string) bool {
	return recoverableCodes[code]
}

// userMessages maps stable codes to operator-friendly strings. Surfaced
// errors never include stack traces or internal identifiers.
var userMessages = map[string]string{
	ErrAgentAPIKeyMissing: "No API key is configured for the selected provider.",
	ErrAgentMaxIterations: "The task stopped after reaching its iteration limit.",
	ErrAgentCancelled:     "The task was cancelled.",
	ErrCircuitOpen:        "The backend is temporarily unavailable; retrying shortly.",
	ErrAgentOverflow:      "The task context no longer fits the configured token budget.",
}

// UserMessage returns the human-facing string for an error.
func UserMessage(err *AgentError) string {
	if err == nil {
		return ""
	}
	if msg, ok := userMessages[err.Code]; ok {
		return msg
	}
	return err.Message
}
