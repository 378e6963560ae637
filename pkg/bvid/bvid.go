package bvid

import (
	"strings"

	"bilicrawl/pkg/errors"
)

// Constants of the platform's published bvid encoding: a base-58-like
// alphabet, a bit-mixing XOR and a positional shuffle.
const (
	alphabet = "FcwAPNKTMug3GV5Lj7EJnHpWsx4tb8haYeviqBz6rkCy12mUSDQX9RdoZf"
	xorCode  = 23442827791579
	maskCode = 2251799813685247
	maxAid   = 1 << 51
	prefix   = "BV1"
	codeLen  = 9
)

var encodeMap = [codeLen]int{8, 7, 0, 5, 1, 3, 2, 4, 6}

// Encode converts a numeric aid to its bvid form.
func Encode(aid int64) (string, error) {
	if aid <= 0 || aid >= maxAid {
		return "", errors.New(errors.ErrorTypeInvalidID, 0, "aid out of range: %d", aid)
	}

	var buf [codeLen]byte
	tmp := (maxAid | aid) ^ xorCode
	for i := 0; i < codeLen; i++ {
		buf[encodeMap[i]] = alphabet[tmp%int64(len(alphabet))]
		tmp /= int64(len(alphabet))
	}
	return prefix + string(buf[:]), nil
}

// Decode converts a bvid back to its numeric aid. Malformed input is
// rejected; a wrong-but-plausible aid is never returned.
func Decode(bv string) (int64, error) {
	if !strings.HasPrefix(bv, prefix) {
		return 0, errors.New(errors.ErrorTypeInvalidID, 0, "bvid must start with %q: %s", prefix, bv)
	}
	body := bv[len(prefix):]
	if len(body) != codeLen {
		return 0, errors.New(errors.ErrorTypeInvalidID, 0, "bvid body must be %d characters: %s", codeLen, bv)
	}

	var tmp int64
	for i := codeLen - 1; i >= 0; i-- {
		idx := strings.IndexByte(alphabet, body[encodeMap[i]])
		if idx < 0 {
			return 0, errors.New(errors.ErrorTypeInvalidID, 0, "bvid contains invalid character %q", body[encodeMap[i]])
		}
		tmp = tmp*int64(len(alphabet)) + int64(idx)
	}

	aid := (tmp & maskCode) ^ xorCode
	if aid <= 0 || aid >= maxAid {
		return 0, errors.New(errors.ErrorTypeInvalidID, 0, "bvid decodes outside the valid aid range: %s", bv)
	}
	return aid, nil
}

// IsValid reports whether bv is a well-formed bvid.
func IsValid(bv string) bool {
	_, err := Decode(bv)
	return err == nil
}
