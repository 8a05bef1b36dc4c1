package trustanchor

import "errors"

// TrustStoreError classifies a system trust store operation's failure
// so callers can tell a genuine failure from a harmless already-done
// state.
type TrustStoreError struct {
	Code    TrustStoreErrorCode
	Wrapped error
}

func (e *TrustStoreError) Error() string {
	return e.Code.String() + ": " + e.Wrapped.Error()
}

func (e *TrustStoreError) Unwrap() error { return e.Wrapped }

// TrustStoreErrorCode distinguishes a non-fatal ALREADY_PRESENT result
// from every other (fatal) failure mode.
type TrustStoreErrorCode int

const (
	ErrCodeUnknown TrustStoreErrorCode = iota
	ErrCodePermissionDenied
	ErrCodeAlreadyPresent
)

func (c TrustStoreErrorCode) String() string {
	switch c {
	case ErrCodePermissionDenied:
		return "PERMISSION_DENIED"
	case ErrCodeAlreadyPresent:
		return "ALREADY_PRESENT"
	default:
		return "UNKNOWN"
	}
}

// IsAlreadyPresent reports whether err indicates the certificate was
// already installed — a no-op, not a failure.
func IsAlreadyPresent(err error) bool {
	var tse *TrustStoreError
	return errors.As(err, &tse) && tse.Code == ErrCodeAlreadyPresent
}

// IsPermissionDenied reports whether err indicates the caller needs to
// re-run with elevation.
func IsPermissionDenied(err error) bool {
	var tse *TrustStoreError
	return errors.As(err, &tse) && tse.Code == ErrCodePermissionDenied
}

// InstallToSystemTrust adds b's certificate to the OS root trust store.
// Installing the same certificate twice is a no-op: platform backends
// must detect this and return an ALREADY_PRESENT TrustStoreError rather
// than treating it as a failure.
func (a *Anchor) InstallToSystemTrust(b *CertificateBundle) error {
	return installToSystemTrust(a.certPath(), b)
}

// UninstallFromSystemTrust removes the certificate from the OS trust
// store by subject+fingerprint match only, never by a CN substring
// match that could remove an unrelated certificate sharing the name.
func (a *Anchor) UninstallFromSystemTrust(b *CertificateBundle) error {
	return uninstallFromSystemTrust(b)
}
