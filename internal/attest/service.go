package attest

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ogulcanaydogan/milestone-attestation/internal/sign"
)

// Signer is the key material the service signs with. *sign.KeyManager
// satisfies it.
type Signer interface {
	Sign(message []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
	PublicKeyHex() string
	KeyID() string
}

type Options struct {
	Version MessageVersion
	// Now defaults to time.Now.
	Now func() time.Time
}

// Request is the typed input to Create. A nil Timestamp means "now".
type Request struct {
	AppID          uint64
	MilestoneIndex uint64
	Status         Status
	MilestoneHash  string
	ProofHash      string
	Timestamp      *int64
}

// Service combines the codec and the verifier key. It holds no per-call
// state and is safe for concurrent use.
type Service struct {
	signer  Signer
	version MessageVersion
	now     func() time.Time
}

func NewService(signer Signer, opts Options) (*Service, error) {
	if signer == nil {
		return nil, sign.ErrNoKey
	}
	if !opts.Version.Valid() {
		return nil, fmt.Errorf("unsupported message version %d", int(opts.Version))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{signer: signer, version: opts.Version, now: now}, nil
}

// Create validates req, signs its canonical message and returns the
// attestation. Validation failures are *ValidationError and nothing is signed.
func (s *Service) Create(req Request) (Attestation, error) {
	f := Fields{
		AppID:          req.AppID,
		MilestoneIndex: req.MilestoneIndex,
		Status:         req.Status,
		MilestoneHash:  req.MilestoneHash,
		ProofHash:      req.ProofHash,
	}
	if req.Timestamp != nil {
		f.Timestamp = *req.Timestamp
	} else {
		f.Timestamp = s.now().Unix()
	}

	msg, err := EncodeVersion(s.version, f)
	if err != nil {
		return Attestation{}, err
	}
	sig, err := s.signer.Sign(msg)
	if err != nil {
		return Attestation{}, fmt.Errorf("sign attestation: %w", err)
	}
	if !sign.Verify(msg, sig, s.signer.PublicKey()) {
		return Attestation{}, fmt.Errorf("sign attestation: signature does not verify under the verifier public key")
	}

	return Attestation{
		AppID:          f.AppID,
		MilestoneIndex: f.MilestoneIndex,
		Status:         f.Status,
		Timestamp:      f.Timestamp,
		MilestoneHash:  f.MilestoneHash,
		ProofHash:      f.ProofHash,
		VerifierPubKey: s.signer.PublicKeyHex(),
		Message:        string(msg),
		Signature:      hex.EncodeToString(sig),
		KeyID:          s.signer.KeyID(),
		MessageVersion: s.version,
	}, nil
}

// Verify is the stateless check anyone holding a claimed public key can run.
// It never needs the private key.
func (s *Service) Verify(message, signature, publicKey []byte) bool {
	return sign.Verify(message, signature, publicKey)
}

// VerifyHex is Verify for hex-encoded signature and key. Bad hex is false.
func (s *Service) VerifyHex(message, signatureHex, publicKeyHex string) bool {
	return sign.VerifyHex([]byte(message), signatureHex, publicKeyHex)
}

func (s *Service) PublicKeyHex() string { return s.signer.PublicKeyHex() }

func (s *Service) KeyID() string { return s.signer.KeyID() }

func (s *Service) Version() MessageVersion { return s.version }

// Ephemeral reports whether the signer was generated at startup.
func (s *Service) Ephemeral() bool {
	e, ok := s.signer.(interface{ Ephemeral() bool })
	return ok && e.Ephemeral()
}
