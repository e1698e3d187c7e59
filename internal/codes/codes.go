package codes

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/goAccount/internal"
	"github.com/redis/go-redis/v9"
)

const (
	codeRecordVersionV1 = 1
	defaultCodePrefix   = "avc"
)

// Purpose scopes a code. One live code exists per (purpose, email).
type Purpose uint8

const (
	PurposeSecondaryEmailVerify Purpose = 1
	PurposePasswordReset        Purpose = 2
)

func (p Purpose) String() string {
	switch p {
	case PurposeSecondaryEmailVerify:
		return "secondary_email_verify"
	case PurposePasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// AllPurposes lists every purpose, used when revoking all codes of an address.
var AllPurposes = []Purpose{PurposeSecondaryEmailVerify, PurposePasswordReset}

var (
	ErrCodeNotFound         = errors.New("verification code not found")
	ErrCodeMismatch         = errors.New("verification code mismatch")
	ErrCodeAttemptsExceeded = errors.New("verification code attempts exceeded")
	ErrCodeRedisUnavailable = errors.New("verification code redis unavailable")
)

// redeemCodeLua atomically performs GET→validate→DEL/SET on a code record.
// KEYS[1] = record key
// ARGV[1] = provided hash (32 bytes)
// ARGV[2] = expected purpose (byte)
// ARGV[3] = max attempts (int string)
// ARGV[4] = current unix timestamp (int string)
//
// Returns:
//
//	record bytes on success
//	error string: "not_found", "expired", "purpose_mismatch", "attempts_exceeded", "code_mismatch"
var redeemCodeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local providedHash = ARGV[1]
local expectedPurpose = tonumber(ARGV[2])
local maxAttempts = tonumber(ARGV[3])
local nowUnix = tonumber(ARGV[4])

-- version(1) purpose(1) attempts(2 big-endian) expiresAt(8 big-endian) ...
local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local purpose = string.byte(data, 2)

local a0 = string.byte(data, 3)
local a1 = string.byte(data, 4)
local attempts = a0 * 256 + a1

local e0,e1,e2,e3,e4,e5,e6,e7 = string.byte(data, 5, 12)
local expiresAt = e0
for _, b in ipairs({e1,e2,e3,e4,e5,e6,e7}) do
  expiresAt = expiresAt * 256 + b
end

if nowUnix >= expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

if purpose ~= expectedPurpose then
  return {err='purpose_mismatch'}
end

-- hash follows version(1)+purpose(1)+attempts(2)+expiresAt(8)+accountIDLen(2)+accountID
local accountIDLen = string.byte(data, 13) * 256 + string.byte(data, 14)
local hashOffset = 15 + accountIDLen
local storedHash = string.sub(data, hashOffset, hashOffset + 31)

if storedHash ~= providedHash then
  attempts = attempts + 1
  if attempts >= maxAttempts then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  local newA0 = math.floor(attempts / 256)
  local newA1 = attempts % 256
  local newData = string.sub(data, 1, 2) .. string.char(newA0, newA1) .. string.sub(data, 5)
  local ttlMs = redis.call('PTTL', KEYS[1])
  if ttlMs <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='expired'}
  end
  redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
  return {err='code_mismatch'}
end

redis.call('DEL', KEYS[1])
return data
`)

// Record is the stored form of an issued code. The plain code is never kept.
type Record struct {
	AccountID  string
	Purpose    Purpose
	SecretHash [32]byte
	IssuedAt   int64
	ExpiresAt  int64
	Attempts   uint16
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	Prefix      string
	TTL         time.Duration
	Digits      int
	MaxAttempts int
}

// Issuer issues and redeems short-lived numeric codes bound to an address.
type Issuer struct {
	redis  redis.UniversalClient
	config IssuerConfig
	now    func() time.Time
}

func NewIssuer(redisClient redis.UniversalClient, cfg IssuerConfig) *Issuer {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultCodePrefix
	}
	return &Issuer{
		redis:  redisClient,
		config: cfg,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for explicit expiry checks.
func (i *Issuer) SetClock(now func() time.Time) {
	if now != nil {
		i.now = now
	}
}

func (i *Issuer) key(purpose Purpose, normalizedEmail string) string {
	return fmt.Sprintf("%s:%d:%s", i.config.Prefix, purpose, normalizedEmail)
}

// Issue generates a fresh code for (purpose, email), replacing any live one.
func (i *Issuer) Issue(ctx context.Context, purpose Purpose, normalizedEmail, accountID string) (string, time.Time, error) {
	code, err := internal.NewOTP(i.config.Digits)
	if err != nil {
		return "", time.Time{}, err
	}

	now := i.now()
	expiresAt := now.Add(i.config.TTL)
	record := &Record{
		AccountID:  accountID,
		Purpose:    purpose,
		SecretHash: hashCode(purpose, normalizedEmail, code),
		IssuedAt:   now.Unix(),
		ExpiresAt:  expiresAt.Unix(),
	}

	encoded, err := encodeRecord(record)
	if err != nil {
		return "", time.Time{}, err
	}

	if err := i.redis.Set(ctx, i.key(purpose, normalizedEmail), encoded, i.config.TTL).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
	}

	return code, expiresAt, nil
}

// Redeem consumes the live code for (purpose, email) when code matches.
// Exactly one concurrent caller can succeed for a given code.
func (i *Issuer) Redeem(ctx context.Context, purpose Purpose, normalizedEmail, code string) (*Record, error) {
	providedHash := hashCode(purpose, normalizedEmail, code)

	result, err := redeemCodeLua.Run(ctx, i.redis,
		[]string{i.key(purpose, normalizedEmail)},
		string(providedHash[:]),
		int(purpose),
		i.config.MaxAttempts,
		i.now().Unix(),
	).Result()

	if err != nil {
		switch err.Error() {
		case "not_found", "expired":
			return nil, ErrCodeNotFound
		case "purpose_mismatch", "code_mismatch":
			return nil, ErrCodeMismatch
		case "attempts_exceeded":
			return nil, ErrCodeAttemptsExceeded
		default:
			return nil, fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrCodeRedisUnavailable)
	}

	record, err := decodeRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
	}

	// Lua string comparison is not constant-time.
	if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
		return nil, ErrCodeMismatch
	}

	return record, nil
}

// Peek returns the live record for (purpose, email) without consuming it.
func (i *Issuer) Peek(ctx context.Context, purpose Purpose, normalizedEmail string) (*Record, error) {
	data, err := i.redis.Get(ctx, i.key(purpose, normalizedEmail)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
	}
	return decodeRecord(data)
}

// Revoke destroys the live codes of the given purposes for every address.
func (i *Issuer) Revoke(ctx context.Context, purposes []Purpose, normalizedEmails ...string) error {
	if len(purposes) == 0 || len(normalizedEmails) == 0 {
		return nil
	}
	keys := make([]string, 0, len(purposes)*len(normalizedEmails))
	for _, email := range normalizedEmails {
		for _, p := range purposes {
			keys = append(keys, i.key(p, email))
		}
	}
	if err := i.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
	}
	return nil
}

func hashCode(purpose Purpose, normalizedEmail, code string) [32]byte {
	buf := make([]byte, 0, 2+len(normalizedEmail)+len(code))
	buf = append(buf, byte(purpose), ':')
	buf = append(buf, normalizedEmail...)
	buf = append(buf, ':')
	buf = append(buf, code...)
	return internal.HashBytes(buf)
}

func encodeRecord(record *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(codeRecordVersionV1)
	buf.WriteByte(byte(record.Purpose))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("code record account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	buf.Write(record.SecretHash[:])

	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != codeRecordVersionV1 {
		return nil, errors.New("invalid code record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &Record{Purpose: Purpose(purpose)}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var accountIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &accountIDLen); err != nil {
		return nil, err
	}
	accountID := make([]byte, accountIDLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, err
	}
	record.AccountID = string(accountID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}

	return record, nil
}
