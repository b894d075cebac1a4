package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"todo-api/domain"
	"todo-api/identity"
)

type userEntity struct {
	entityKeys
	ID            string `json:"ID"`
	Email         string `json:"Email"`
	PasswordHash  string `json:"PasswordHash"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

func userKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func encodeUserEntity(rec identity.UserRecord) userEntity {
	key := userKey(rec.Email)
	return userEntity{
		entityKeys:    entityKeys{PartitionKey: key, RowKey: key},
		ID:            rec.ID,
		Email:         rec.Email,
		PasswordHash:  rec.PasswordHash,
		CreatedAt:     rec.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
	}
}

func decodeUserEntity(data []byte) (identity.UserRecord, error) {
	var ent userEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return identity.UserRecord{}, err
	}
	return identity.UserRecord{
		User: domain.User{
			ID:        ent.ID,
			Email:     ent.Email,
			CreatedAt: time.Unix(0, ent.CreatedAt).UTC(),
		},
		PasswordHash: ent.PasswordHash,
	}, nil
}

// CreateUser stores a new account keyed by its lower-cased email.
func (s *Tables) CreateUser(ctx context.Context, rec identity.UserRecord) error {
	payload, err := json.Marshal(encodeUserEntity(rec))
	if err != nil {
		return err
	}
	if _, err := s.userTable.AddEntity(ctx, payload, nil); err != nil {
		if isStatus(err, http.StatusConflict) {
			return identity.ErrUserExists
		}
		return err
	}
	return nil
}

// FindUserByEmail loads an account by email.
func (s *Tables) FindUserByEmail(ctx context.Context, email string) (identity.UserRecord, error) {
	key := userKey(email)
	resp, err := s.userTable.GetEntity(ctx, key, key, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return identity.UserRecord{}, identity.ErrUserNotFound
		}
		return identity.UserRecord{}, err
	}
	return decodeUserEntity(resp.Value)
}
