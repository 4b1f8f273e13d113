package license

import (
	"encoding/base64"
	"strconv"
	"strings"
)

const basicPrefix = "Basic "

// EncodeBasicAuth returns the Authorization header value for a license key and
// activation id: HTTP Basic with the key as user and the id as password.
// It returns "" for an empty key; such requests must carry no Authorization
// header at all.
func EncodeBasicAuth(key string, activationID int64) string {
	if key == "" {
		return ""
	}
	cred := key + ":" + strconv.FormatInt(activationID, 10)
	return basicPrefix + base64.StdEncoding.EncodeToString([]byte(cred))
}

// ParseBasicAuth reverses EncodeBasicAuth. The id is split off at the last
// colon so keys containing colons round-trip.
func ParseBasicAuth(header string) (key string, activationID int64, ok bool) {
	if !strings.HasPrefix(header, basicPrefix) {
		return "", 0, false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, basicPrefix))
	if err != nil {
		return "", 0, false
	}
	cred := string(raw)
	i := strings.LastIndexByte(cred, ':')
	if i <= 0 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(cred[i+1:], 10, 64)
	if err != nil || id < 0 {
		return "", 0, false
	}
	return cred[:i], id, true
}
