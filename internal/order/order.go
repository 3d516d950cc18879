package order

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/config"
)

// Domain binds signatures to one deployment and one order shape.
type Domain struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	VerifyingTarget string `json:"verifying_target"`
}

// DomainFromConfig builds a Domain from the registry signing section.
func DomainFromConfig(c config.SigningConfig) Domain {
	return Domain{Name: c.Name, Version: c.Version, VerifyingTarget: c.VerifyingTarget}
}

// OptionOrder is the maker's signed offer to write an option. An empty Taker
// means any taker may fill it.
type OptionOrder struct {
	Maker            string          `json:"maker"`
	Taker            string          `json:"taker,omitempty"`
	CollateralAsset  string          `json:"collateral_asset"`
	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	PremiumAsset     string          `json:"premium_asset"`
	PremiumAmount    decimal.Decimal `json:"premium_amount"`
	Salt             string          `json:"salt"`
	Expiration       time.Time       `json:"expiration"`
	Interaction      []byte          `json:"interaction,omitempty"`
	Spec             []byte          `json:"spec"`
}

const orderTypeTag = "OptionOrder(maker,taker,collateralAsset,collateralAmount,premiumAsset,premiumAmount,salt,expiration,interaction,spec)"

func writeField(h hash.Hash, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	h.Write(n[:])
	h.Write(b)
}

// Hash is the SHA-256 digest of the domain and every order field, each length-prefixed.
func (o OptionOrder) Hash(d Domain) [32]byte {
	h := sha256.New()
	writeField(h, []byte(d.Name))
	writeField(h, []byte(d.Version))
	writeField(h, []byte(d.VerifyingTarget))
	writeField(h, []byte(orderTypeTag))
	writeField(h, []byte(o.Maker))
	writeField(h, []byte(o.Taker))
	writeField(h, []byte(o.CollateralAsset))
	writeField(h, []byte(o.CollateralAmount.String()))
	writeField(h, []byte(o.PremiumAsset))
	writeField(h, []byte(o.PremiumAmount.String()))
	writeField(h, []byte(o.Salt))
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], uint64(o.Expiration.Unix()))
	writeField(h, exp[:])
	writeField(h, o.Interaction)
	writeField(h, o.Spec)

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// ID is the hex order hash, used to track fills and cancellations.
func (o OptionOrder) ID(d Domain) string {
	sum := o.Hash(d)
	return hex.EncodeToString(sum[:])
}

// Signer signs orders for the account derived from its key.
type Signer struct {
	key    ed25519.PrivateKey
	domain Domain
}

// NewSigner creates a Signer for key under d.
func NewSigner(key ed25519.PrivateKey, d Domain) *Signer {
	return &Signer{key: key, domain: d}
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner(d Domain) (*Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewSigner(key, d), nil
}

// SignerFromSeed builds a signer from a hex-encoded 32-byte seed.
func SignerFromSeed(seedHex string, d Domain) (*Signer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d hex-encoded bytes: %w", ed25519.SeedSize, apperr.ErrInvalidArgument)
	}
	return NewSigner(ed25519.NewKeyFromSeed(seed), d), nil
}

// Account is the hex-encoded public key.
func (s *Signer) Account() string {
	return hex.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

// Seed returns the hex-encoded private seed.
func (s *Signer) Seed() string {
	return hex.EncodeToString(s.key.Seed())
}

// Sign signs the order hash.
func (s *Signer) Sign(o OptionOrder) ([]byte, error) {
	if o.Maker != s.Account() {
		return nil, fmt.Errorf("order maker %s is not signer %s: %w", o.Maker, s.Account(), apperr.ErrSignatureInvalid)
	}
	sum := o.Hash(s.domain)
	return ed25519.Sign(s.key, sum[:]), nil
}

// Verifier checks maker signatures within one domain.
type Verifier struct {
	domain Domain
}

// NewVerifier creates a Verifier for d.
func NewVerifier(d Domain) *Verifier {
	return &Verifier{domain: d}
}

// Domain returns the signing domain.
func (v *Verifier) Domain() Domain { return v.domain }

// Verify checks sig against the order maker's key.
func (v *Verifier) Verify(o OptionOrder, sig []byte) error {
	pub, err := hex.DecodeString(o.Maker)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("maker %q is not a public key: %w", o.Maker, apperr.ErrSignatureInvalid)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("signature length %d: %w", len(sig), apperr.ErrSignatureInvalid)
	}
	sum := o.Hash(v.domain)
	if !ed25519.Verify(ed25519.PublicKey(pub), sum[:], sig) {
		return apperr.ErrSignatureInvalid
	}
	return nil
}
