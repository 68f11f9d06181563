package heuristics

// RequiresManualAccess reports whether the body points the reader to an
// external portal for the billing detail instead of stating it inline.
func (e *Engine) RequiresManualAccess(bodyText string) bool {
	for _, re := range e.manualAccess {
		if re.MatchString(bodyText) {
			return true
		}
	}
	return false
}
