package types

// Identity holds your long-term X25519 agreement keys and Ed25519 signing keys.
// It is created once at registration and never leaves the device in private form.
type Identity struct {
	XPub       X25519Public   `json:"xpub"`
	XPriv      X25519Private  `json:"xpriv"`
	EdPub      Ed25519Public  `json:"edpub"`
	EdPriv     Ed25519Private `json:"edpriv"`
	CreatedUTC int64          `json:"created_utc"`
}
