package flows

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow implementation.
type Deps struct {
	Login         LoginDeps
	CodeLogin     LoginDeps
	ConfirmMFA    MFAConfirmDeps
	Refresh       RefreshDeps
	Authenticate  AuthenticateDeps
	PasswordReset PasswordResetDeps
}
