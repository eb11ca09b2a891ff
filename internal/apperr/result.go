package apperr

// Result is what every presentation-facing call reports: a success flag and,
// on failure, a message fit for display.
type Result struct {
	Success bool   `json:"success"`
	Kind    Kind   `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToResult converts err into a Result. A nil error is a success.
func ToResult(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	return Result{Kind: KindOf(err), Error: err.Error()}
}
