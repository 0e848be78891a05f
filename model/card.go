package model

// Card is the triaged email an action is invoked from. The action engine only
// reads cards; it never mutates them.
type Card struct {
	ID          string           `json:"id"`
	Subject     string           `json:"subject,omitempty"`
	Sender      string           `json:"sender,omitempty"`
	SenderEmail string           `json:"senderEmail,omitempty"`
	Summary     string           `json:"summary,omitempty"`
	Mode        Mode             `json:"mode,omitempty"`
	Actions     []string         `json:"actions,omitempty"`
	Context     map[string]Value `json:"context,omitempty"`
}

// ValidationResult reports whether an action's required context keys are
// present.
type ValidationResult struct {
	Valid       bool     `json:"isValid"`
	MissingKeys []string `json:"missingKeys"`
	Error       string   `json:"error,omitempty"`
}
