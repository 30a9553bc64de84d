package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/dealhub/internal/model"
	"github.com/hitoshi/dealhub/internal/repository"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// codeDoc は(user_id, purpose)を_idとするワンタイムコードのドキュメント。
// code_idは発行ごとに変わるため、置き換え前のIDでの削除は0件となる。
type codeDoc struct {
	Key       string    `bson:"_id"`
	CodeID    string    `bson:"code_id"`
	UserID    string    `bson:"user_id"`
	Purpose   string    `bson:"purpose"`
	CodeHash  string    `bson:"code_hash"`
	ExpiresAt time.Time `bson:"expires_at"`
	Attempts  int       `bson:"attempts"`
	CreatedAt time.Time `bson:"created_at"`
}

func codeKey(userID string, purpose model.CodePurpose) string {
	return userID + ":" + string(purpose)
}

func (d *codeDoc) toModel() *model.OneTimeCode {
	return &model.OneTimeCode{
		ID:        d.CodeID,
		UserID:    d.UserID,
		Purpose:   model.CodePurpose(d.Purpose),
		CodeHash:  d.CodeHash,
		ExpiresAt: d.ExpiresAt,
		Attempts:  d.Attempts,
		CreatedAt: d.CreatedAt,
	}
}

// CodeRepo はone_time_codesコレクションを使用したワンタイムコードリポジトリ。
type CodeRepo struct {
	col *mongo.Collection
}

// Replace はReplaceOne(upsert)で(user_id, purpose)のドキュメントを置き換える。
func (r *CodeRepo) Replace(ctx context.Context, code *model.OneTimeCode) error {
	doc := codeDoc{
		Key:       codeKey(code.UserID, code.Purpose),
		CodeID:    code.ID,
		UserID:    code.UserID,
		Purpose:   string(code.Purpose),
		CodeHash:  code.CodeHash,
		ExpiresAt: code.ExpiresAt,
		Attempts:  code.Attempts,
		CreatedAt: code.CreatedAt,
	}
	_, err := r.col.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: doc.Key}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to replace one-time code: %w", err)
	}
	return nil
}

// ReserveAttempt は$incで試行回数を増やし、更新後のドキュメントを返す。
func (r *CodeRepo) ReserveAttempt(ctx context.Context, userID string, purpose model.CodePurpose) (*model.OneTimeCode, error) {
	var doc codeDoc
	err := r.col.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: codeKey(userID, purpose)}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "attempts", Value: 1}}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve attempt: %w", err)
	}
	return doc.toModel(), nil
}

// DeleteByID はcode_idで1件削除する。
func (r *CodeRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	res, err := r.col.DeleteOne(ctx, bson.D{{Key: "code_id", Value: id}})
	if err != nil {
		return false, fmt.Errorf("failed to delete one-time code: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// DeleteExpired は期限切れのドキュメントを削除する。
func (r *CodeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: before}}}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired one-time codes: %w", err)
	}
	return res.DeletedCount, nil
}

// compile-time interface check
var _ repository.OneTimeCodeRepository = (*CodeRepo)(nil)
