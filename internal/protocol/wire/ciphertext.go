package wire

import (
	"encoding/base64"
	"fmt"

	"waypoint/internal/domain"
)

// Version1 is the only ciphertext format produced today.
const Version1 uint8 = 1

type headerV1 struct {
	DH []byte `cbor:"1,keyasint"`
	PN uint32 `cbor:"2,keyasint"`
	N  uint32 `cbor:"3,keyasint"`
}

type ciphertextV1 struct {
	Version uint8    `cbor:"0,keyasint"`
	Header  headerV1 `cbor:"1,keyasint"`
	Body    []byte   `cbor:"2,keyasint"`
}

// versionProbe decodes only the version so that newer formats can be
// rejected before their body is interpreted.
type versionProbe struct {
	Version uint8 `cbor:"0,keyasint"`
}

// EncodeCiphertext serialises a ratchet header and its AEAD output.
func EncodeCiphertext(h domain.RatchetHeader, body []byte) ([]byte, error) {
	return Marshal(ciphertextV1{
		Version: Version1,
		Header: headerV1{
			DH: h.DiffieHellmanPublicKey.Slice(),
			PN: h.PreviousChainLength,
			N:  h.MessageIndex,
		},
		Body: body,
	})
}

// DecodeCiphertext parses an encoded ciphertext into header and body.
func DecodeCiphertext(b []byte) (domain.RatchetHeader, []byte, error) {
	if err := checkVersion(b); err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	var ct ciphertextV1
	if err := Unmarshal(b, &ct); err != nil {
		return domain.RatchetHeader{}, nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if len(ct.Header.DH) != len(domain.X25519Public{}) {
		return domain.RatchetHeader{}, nil, fmt.Errorf("%w: ratchet key length %d", domain.ErrMalformedMessage, len(ct.Header.DH))
	}
	var h domain.RatchetHeader
	copy(h.DiffieHellmanPublicKey[:], ct.Header.DH)
	h.PreviousChainLength = ct.Header.PN
	h.MessageIndex = ct.Header.N
	return h, ct.Body, nil
}

// DecodeHeader parses only what is needed to read the header.
func DecodeHeader(b []byte) (domain.RatchetHeader, error) {
	h, _, err := DecodeCiphertext(b)
	return h, err
}

// HeaderFingerprint is the base64 of the header's sender ratchet key. It
// changes on every ratchet step.
func HeaderFingerprint(h domain.RatchetHeader) domain.Fingerprint {
	return domain.Fingerprint(base64.StdEncoding.EncodeToString(h.DiffieHellmanPublicKey[:]))
}

func checkVersion(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: empty", domain.ErrMalformedMessage)
	}
	var probe versionProbe
	if err := Unmarshal(b, &probe); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	switch {
	case probe.Version == 0:
		return fmt.Errorf("%w: missing version", domain.ErrMalformedMessage)
	case probe.Version > Version1:
		return fmt.Errorf("%w: %d", domain.ErrUnsupportedVersion, probe.Version)
	}
	return nil
}
