package mongostore

import (
	"context"
	"errors"

	"github.com/hitoshi/dealhub/internal/repository"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// wrapError はMongoDBのエラーをリポジトリのエラーに変換する。
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrDuplicateEmail
	}
	return err
}

// findOne は1件のドキュメントを取得してデコードする。
// 存在しない場合はSQL実装と同じく(nil, nil)を返す。
func findOne[T any](ctx context.Context, col *mongo.Collection, filter bson.D) (*T, error) {
	var result T
	err := col.FindOne(ctx, filter).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, wrapError(err)
	}
	return &result, nil
}

// updateFields は_idで指定したドキュメントのフィールドを更新する。
// 対象が無い場合はrepository.ErrUserNotFoundを返す。
func updateFields(ctx context.Context, col *mongo.Collection, id string, set bson.D) error {
	res, err := col.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrUserNotFound
	}
	return nil
}
