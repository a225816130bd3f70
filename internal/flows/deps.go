package flows

// Deps groups flow dependency sets. The root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Login     LoginDeps
	Refresh   RefreshDeps
	Logout    LogoutDeps
	Validate  ValidateDeps
	Authorize AuthorizeDeps
}

func warnOrDiscard(warn func(string, ...any)) func(string, ...any) {
	if warn == nil {
		return func(string, ...any) {}
	}
	return warn
}
