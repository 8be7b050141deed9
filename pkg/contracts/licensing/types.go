// Package licensing defines the wire contract between the ClosetHopper
// companion and the remote license service. Both sides marshal exactly
// these shapes; the client never inspects ad hoc response fields.
package licensing

// Error codes returned by the license service. This is a closed set:
// the client normalizes every failure, including transport failures,
// into one of these before anything above the license client sees it.
const (
	CodeBadRequest     = "bad_request"
	CodeInvalidKey     = "invalid_key"
	CodeLicenseRevoked = "license_revoked"
	CodeLicenseFull    = "license_full"
	CodeServerError    = "server_error"

	// CodeNetworkError is client-side only: the request never reached
	// the service (timeout, DNS, connection refused).
	CodeNetworkError = "network_error"
)

// Activation messages distinguish a fresh seat bind from an idempotent
// re-activation of an already bound profile.
const (
	MessageActivated        = "activated"
	MessageAlreadyActivated = "already_activated"
)

// License status values as reported by the service.
const (
	StatusAvailable       = "available"
	StatusActive          = "active"
	StatusRevoked         = "revoked"
	StatusTransferred     = "transferred"
	StatusPendingTransfer = "pending_transfer"
)

// ActivateRequest binds a profile hash to a license seat.
type ActivateRequest struct {
	Key         string `json:"key" validate:"required"`
	ProfileHash string `json:"profileHash" validate:"required,len=64,hexadecimal"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
}

// ActivateResponse reports a successful (or idempotent) activation.
type ActivateResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ValidateRequest checks whether a license is still good for a profile.
type ValidateRequest struct {
	Key         string `json:"key" validate:"required"`
	ProfileHash string `json:"profileHash" validate:"required,len=64,hexadecimal"`
}

// Seats reports seat occupancy for a license.
type Seats struct {
	Used int `json:"used"`
	Max  int `json:"max"`
}

// ValidateResponse is the full validation result. Bound reports whether
// the requesting profile currently occupies a seat; validation never
// consumes one.
type ValidateResponse struct {
	OK              bool   `json:"ok"`
	Status          string `json:"status"`
	Plan            string `json:"plan"`
	Seats           Seats  `json:"seats"`
	Bound           bool   `json:"bound"`
	NextCheckInDays int    `json:"nextCheckInDays"`
}

// PingRequest is a lightweight freshness beacon after a successful
// validation. It grants and revokes nothing.
type PingRequest struct {
	Key         string `json:"key" validate:"required"`
	ProfileHash string `json:"profileHash" validate:"required,len=64,hexadecimal"`
}

// PingResponse acknowledges a ping.
type PingResponse struct {
	OK bool `json:"ok"`
}

// DeactivateRequest releases the seat bound to a profile hash.
type DeactivateRequest struct {
	Key         string `json:"key" validate:"required"`
	ProfileHash string `json:"profileHash" validate:"required,len=64,hexadecimal"`
}

// DeactivateResponse acknowledges a seat release.
type DeactivateResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the uniform failure shape for every operation.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
