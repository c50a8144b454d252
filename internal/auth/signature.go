package auth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/xelma/round-engine/internal/model"
)

// Request headers carrying a signed call.
const (
	HeaderAddress   = "X-Xelma-Address"
	HeaderNonce     = "X-Xelma-Nonce"
	HeaderSignature = "X-Xelma-Signature"
)

// DefaultNonceWindow is how far a request nonce (unix milliseconds) may drift
// from the server clock.
const DefaultNonceWindow = 30 * time.Second

// MaxBodyBytes caps the request body Middleware buffers for hashing.
const MaxBodyBytes = 64 << 10

var (
	ErrMissingSignature = errors.New("auth: missing signature headers")
	ErrBadSignature     = errors.New("auth: signature does not match address")
	ErrStaleNonce       = errors.New("auth: nonce outside acceptance window")
)

// SigningPayload is the message a client signs for one request:
//
//	METHOD \n PATH \n NONCE \n keccak256(body) as 0x-hex
//
// The payload is hashed with the EIP-191 personal-message prefix before
// signing, so any standard wallet can produce it.
func SigningPayload(method, path string, nonce int64, body []byte) []byte {
	return []byte(strings.Join([]string{
		strings.ToUpper(method),
		path,
		strconv.FormatInt(nonce, 10),
		hexutil.Encode(ethcrypto.Keccak256(body)),
	}, "\n"))
}

// RecoverAddress returns the address that produced sig over payload.
// Both 0/1 and 27/28 recovery ids are accepted.
func RecoverAddress(payload, sig []byte) (model.Address, error) {
	if len(sig) != ethcrypto.SignatureLength {
		return "", fmt.Errorf("%w: signature must be %d bytes", ErrBadSignature, ethcrypto.SignatureLength)
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[ethcrypto.RecoveryIDOffset] >= 27 {
		s[ethcrypto.RecoveryIDOffset] -= 27
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash(payload), s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return model.Address(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

// Verifier authenticates signed HTTP requests.
type Verifier struct {
	window time.Duration
	guard  NonceGuard
	now    func() time.Time
}

// NewVerifier creates a Verifier. A zero window uses DefaultNonceWindow.
func NewVerifier(window time.Duration, guard NonceGuard) *Verifier {
	if window <= 0 {
		window = DefaultNonceWindow
	}
	return &Verifier{window: window, guard: guard, now: time.Now}
}

// Verify checks the signature headers of r against body and returns the
// signer's address. The nonce is consumed only when the signature is valid.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, body []byte) (model.Address, error) {
	addrHdr := r.Header.Get(HeaderAddress)
	nonceHdr := r.Header.Get(HeaderNonce)
	sigHdr := r.Header.Get(HeaderSignature)
	if addrHdr == "" || nonceHdr == "" || sigHdr == "" {
		return "", ErrMissingSignature
	}

	claimed, err := ParseAddress(addrHdr)
	if err != nil {
		return "", err
	}
	nonce, err := strconv.ParseInt(nonceHdr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrStaleNonce, nonceHdr)
	}
	if drift := v.now().Sub(time.UnixMilli(nonce)); drift > v.window || drift < -v.window {
		return "", ErrStaleNonce
	}

	sig, err := hexutil.Decode(sigHdr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	signer, err := RecoverAddress(SigningPayload(r.Method, r.URL.Path, nonce, body), sig)
	if err != nil {
		return "", err
	}
	if signer != claimed {
		return "", ErrBadSignature
	}

	if v.guard != nil {
		if err := v.guard.Use(ctx, signer, nonce, 2*v.window); err != nil {
			return "", err
		}
	}
	return signer, nil
}

// Middleware verifies every request it wraps and records the signer on the
// request context. Failures are answered with 401.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, `{"error":"read body"}`, http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, err := v.Verify(r.Context(), r, body)
			if err != nil {
				writeUnauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSigners(r.Context(), signer)))
		})
	}
}

// InsecureMiddleware trusts the X-Xelma-Address header without a signature.
// Development only.
func InsecureMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, err := ParseAddress(r.Header.Get(HeaderAddress))
			if err != nil {
				writeUnauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSigners(r.Context(), addr)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Signer signs requests on behalf of one account. Used by clients and tests.
type Signer struct {
	key     *ecdsa.PrivateKey
	address model.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid private key: %w", err)
	}
	return &Signer{key: pk, address: model.Address(ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())}, nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("auth: generate key: %w", err)
	}
	return &Signer{key: pk, address: model.Address(ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())}, nil
}

// Address returns the checksummed address of the signer.
func (s *Signer) Address() model.Address { return s.address }

// Sign returns the 0x-hex signature (recovery id 27/28) over the request
// payload.
func (s *Signer) Sign(method, path string, nonce int64, body []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(SigningPayload(method, path, nonce, body)), s.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// SignRequest sets the signature headers on r. body must be the exact bytes
// r will send.
func (s *Signer) SignRequest(r *http.Request, body []byte, nonce int64) error {
	sig, err := s.Sign(r.Method, r.URL.Path, nonce, body)
	if err != nil {
		return err
	}
	r.Header.Set(HeaderAddress, string(s.address))
	r.Header.Set(HeaderNonce, strconv.FormatInt(nonce, 10))
	r.Header.Set(HeaderSignature, sig)
	return nil
}
