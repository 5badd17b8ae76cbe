package codes

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strconv"
	"time"
)

const OTPLength = 4

// MaxOTPAttempts is how many wrong codes an OTP survives.
const MaxOTPAttempts = 5

var (
	ErrOTPInvalid = errors.New("invalid_otp")
	ErrOTPExpired = errors.New("otp_expired")
)

type OTPRecord struct {
	Code      string `json:"code"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// GenerateOTP returns a four digit code in [1000, 9999].
func GenerateOTP() (string, error) {
	value, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(1000+value.Int64(), 10), nil
}

func NewOTPRecord(code string, now time.Time, expiry time.Duration) OTPRecord {
	return OTPRecord{
		Code:      code,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(expiry).Unix(),
	}
}

// Check reports ErrOTPInvalid for a wrong code and ErrOTPExpired for the right
// code past its expiry. A wrong code is never reported as expired.
func (r OTPRecord) Check(code string, now time.Time) error {
	if len(code) != OTPLength || code != r.Code {
		return ErrOTPInvalid
	}
	if now.Unix() > r.ExpiresAt {
		return ErrOTPExpired
	}
	return nil
}
