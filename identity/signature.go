package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
)

// Sign signs msg with kp's private key, authenticating a group-chat
// message to its original author independently of whatever net-crypto
// session or TCP relay hop carried it.
func (kp *SignKeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.Private, msg)
}

// Verify checks a single Ed25519 signature. Callers checking many
// signatures from one round of group traffic should prefer BatchVerify.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// BatchVerify verifies many Ed25519 signatures as one combined
// multi-scalar multiplication rather than n independent verifications,
// the way toxcore's group-chat code validates a batch of signed
// messages received in the same round rather than one at a time.
// messages, sigs, and keys must have equal length. A false result means
// at least one signature in the batch is invalid; the caller must fall
// back to Verify one at a time to find which one.
func BatchVerify(messages [][]byte, sigs [][]byte, keys []ed25519.PublicKey) (bool, error) {
	n := len(messages)
	if len(sigs) != n || len(keys) != n {
		return false, fmt.Errorf("identity: batch verify: mismatched slice lengths")
	}
	if n == 0 {
		return true, nil
	}

	scalars := make([]*edwards25519.Scalar, 0, 2*n+1)
	points := make([]*edwards25519.Point, 0, 2*n+1)
	sSum := edwards25519.NewScalar()

	for i := 0; i < n; i++ {
		if len(sigs[i]) != ed25519.SignatureSize {
			return false, fmt.Errorf("identity: batch verify: signature %d wrong size", i)
		}
		if len(keys[i]) != ed25519.PublicKeySize {
			return false, fmt.Errorf("identity: batch verify: public key %d wrong size", i)
		}

		// An R or S that does not decode makes the signature invalid,
		// not the batch malformed.
		R, err := edwards25519.NewIdentityPoint().SetBytes(sigs[i][:32])
		if err != nil {
			return false, nil
		}
		s, err := edwards25519.NewScalar().SetCanonicalBytes(sigs[i][32:64])
		if err != nil {
			return false, nil
		}
		A, err := edwards25519.NewIdentityPoint().SetBytes(keys[i])
		if err != nil {
			return false, fmt.Errorf("identity: batch verify: bad public key %d: %w", i, err)
		}

		h := sha512.New()
		h.Write(sigs[i][:32])
		h.Write(keys[i])
		h.Write(messages[i])
		k, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
		if err != nil {
			return false, fmt.Errorf("identity: batch verify: reduce hash %d: %w", i, err)
		}

		z, err := randomBatchScalar()
		if err != nil {
			return false, err
		}

		zs := edwards25519.NewScalar().Multiply(z, s)
		sSum.Add(sSum, zs)

		points = append(points, R)
		scalars = append(scalars, z)

		zk := edwards25519.NewScalar().Multiply(z, k)
		points = append(points, A)
		scalars = append(scalars, zk)
	}

	negSSum := edwards25519.NewScalar().Negate(sSum)
	scalars = append(scalars, negSSum)
	points = append(points, edwards25519.NewGeneratorPoint())

	result := edwards25519.NewIdentityPoint().VarTimeMultiScalarMult(scalars, points)
	return result.Equal(edwards25519.NewIdentityPoint()) == 1, nil
}

// randomBatchScalar draws the random per-signature weighting coefficient
// the batch equation needs to keep a forger from crafting two invalid
// signatures whose errors cancel out.
func randomBatchScalar() (*edwards25519.Scalar, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("identity: batch verify: random scalar: %w", err)
	}
	return edwards25519.NewScalar().SetUniformBytes(buf[:])
}
