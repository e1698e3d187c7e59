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
	tokenRecordVersionV1 = 1
	defaultTokenPrefix   = "art"
)

var (
	ErrTokenNotFound         = errors.New("reset token not found")
	ErrTokenMismatch         = errors.New("reset token secret mismatch")
	ErrTokenMalformed        = errors.New("reset token malformed")
	ErrTokenRedisUnavailable = errors.New("reset token redis unavailable")
)

// TokenRecord is the stored form of a reset token.
type TokenRecord struct {
	AccountID         string
	CredentialVersion int64
	SecretHash        [32]byte
	ExpiresAt         int64
}

// TokenStore issues single-use opaque reset tokens. A token authorizes one
// credential replacement and is bound to the credential version it was
// issued against.
type TokenStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenStore(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *TokenStore {
	if prefix == "" {
		prefix = defaultTokenPrefix
	}
	return &TokenStore{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for explicit expiry checks.
func (s *TokenStore) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *TokenStore) key(id internal.ID) string {
	return s.prefix + ":" + id.String()
}

// Issue stores a new token record and returns the opaque token.
func (s *TokenStore) Issue(ctx context.Context, accountID string, credentialVersion int64) (string, time.Time, error) {
	id, err := internal.NewID()
	if err != nil {
		return "", time.Time{}, err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := s.now().Add(s.ttl)
	encoded, err := encodeTokenRecord(&TokenRecord{
		AccountID:         accountID,
		CredentialVersion: credentialVersion,
		SecretHash:        internal.HashSecret(secret),
		ExpiresAt:         expiresAt.Unix(),
	})
	if err != nil {
		return "", time.Time{}, err
	}

	if err := s.redis.Set(ctx, s.key(id), encoded, s.ttl).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}

	return internal.EncodeToken(id, secret), expiresAt, nil
}

// Consume validates and deletes the token record. Exactly one concurrent
// caller can consume a token.
func (s *TokenStore) Consume(ctx context.Context, token string) (*TokenRecord, error) {
	id, secret, err := internal.DecodeToken(token)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	providedHash := internal.HashSecret(secret)

	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var matched *TokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrTokenNotFound
				}
				return err
			}

			record, err := decodeTokenRecord(data)
			if err != nil {
				return err
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				return ErrTokenMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			if s.now().Unix() >= record.ExpiresAt {
				return ErrTokenNotFound
			}

			matched = record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, ErrTokenNotFound
}

func encodeTokenRecord(record *TokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.CredentialVersion); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if len(record.AccountID) > 65535 {
		return nil, errors.New("token record account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (*TokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenRecordVersionV1 {
		return nil, errors.New("invalid token record version")
	}

	record := &TokenRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.CredentialVersion); err != nil {
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

	return record, nil
}
