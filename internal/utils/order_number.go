package utils

import (
	"crypto/rand"
	"math/big"
	"time"
)

// Unambiguous when read aloud or over the phone: no 0/O, 1/I/L.
const orderNumberAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const orderNumberSuffixLen = 5

// GenerateOrderNumber returns a short shareable code such as CK-250314-7QXKM.
func GenerateOrderNumber(now time.Time) (string, error) {
	suffix := make([]byte, orderNumberSuffixLen)
	max := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		suffix[i] = orderNumberAlphabet[n.Int64()]
	}
	return "CK-" + now.Format("060102") + "-" + string(suffix), nil
}
