package codes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// otpRetention keeps an expired OTP readable for a while so it can be reported
// as expired rather than missing.
const otpRetention = 10 * time.Minute

type Verification struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

type Store struct {
	redis *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{redis: client}
}

func (s *Store) PutOTP(ctx context.Context, email string, record OTPRecord) error {
	if s.redis == nil {
		return errors.New("redis_not_configured")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ttl := time.Until(time.Unix(record.ExpiresAt, 0)) + otpRetention
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, otpKey(email), data, ttl)
	pipe.Del(ctx, otpAttemptsKey(email))
	_, err = pipe.Exec(ctx)
	return err
}

// RecordOTPFailure counts a wrong code for email and returns the total so far.
func (s *Store) RecordOTPFailure(ctx context.Context, email string) (int64, error) {
	if s.redis == nil {
		return 0, errors.New("redis_not_configured")
	}
	pipe := s.redis.TxPipeline()
	incr := pipe.Incr(ctx, otpAttemptsKey(email))
	pipe.Expire(ctx, otpAttemptsKey(email), otpRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *Store) GetOTP(ctx context.Context, email string) (OTPRecord, bool, error) {
	if s.redis == nil {
		return OTPRecord{}, false, errors.New("redis_not_configured")
	}
	value, err := s.redis.Get(ctx, otpKey(email)).Result()
	if err == redis.Nil {
		return OTPRecord{}, false, nil
	}
	if err != nil {
		return OTPRecord{}, false, err
	}
	var record OTPRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return OTPRecord{}, false, err
	}
	return record, true, nil
}

func (s *Store) DeleteOTP(ctx context.Context, email string) error {
	if s.redis == nil {
		return errors.New("redis_not_configured")
	}
	return s.redis.Del(ctx, otpKey(email), otpAttemptsKey(email)).Err()
}

// PutVerification stores a verification token hash and drops whatever token
// was previously pending for the same user, so resending never leaves two
// live links behind.
func (s *Store) PutVerification(ctx context.Context, tokenHash string, record Verification, ttl time.Duration) error {
	if s.redis == nil {
		return errors.New("redis_not_configured")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	previous, err := s.redis.GetSet(ctx, verificationUserKey(record.UserID), tokenHash).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := s.redis.TxPipeline()
	if previous != "" && previous != tokenHash {
		pipe.Del(ctx, verificationKey(previous))
	}
	pipe.Set(ctx, verificationKey(tokenHash), data, ttl)
	pipe.Expire(ctx, verificationUserKey(record.UserID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) ConsumeVerification(ctx context.Context, tokenHash string) (Verification, bool, error) {
	if s.redis == nil {
		return Verification{}, false, nil
	}
	value, err := s.redis.GetDel(ctx, verificationKey(tokenHash)).Result()
	if err == redis.Nil {
		return Verification{}, false, nil
	}
	if err != nil {
		return Verification{}, false, err
	}
	var record Verification
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return Verification{}, false, err
	}
	_ = s.redis.Del(ctx, verificationUserKey(record.UserID)).Err()
	return record, true, nil
}

func otpKey(email string) string {
	return fmt.Sprintf("otp:%s", strings.ToLower(email))
}

func otpAttemptsKey(email string) string {
	return fmt.Sprintf("otp_attempts:%s", strings.ToLower(email))
}

func verificationKey(tokenHash string) string {
	return fmt.Sprintf("email_verification:%s", tokenHash)
}

func verificationUserKey(userID string) string {
	return fmt.Sprintf("email_verification_user:%s", userID)
}
