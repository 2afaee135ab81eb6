package utils

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// PickIndex returns a uniformly random index in [0, n) from crypto/rand.
func PickIndex(n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("PickIndex: n must be positive")
	}
	idxBig, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(idxBig.Int64()), nil
}
