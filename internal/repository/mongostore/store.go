// Package mongostore はMongoDBによるリポジトリ実装を提供する。
//
// ドキュメントはbsonタグ付きの内部構造体で表現し、modelとの変換は本パッケージ内で閉じる。
// コレクション名とインデックスはensureIndexesで一元管理する。
package mongostore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// コレクション名
const (
	ColUsers        = "users"
	ColOneTimeCodes = "one_time_codes"
)

// Store はMongoDB接続を保持し、ユーザーとワンタイムコードのリポジトリを提供する。
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewStore はMongoDBに接続し、インデックスを作成したStoreを返す。
//
// uri: 接続URI（例: "mongodb://localhost:27017"）
// dbName: データベース名（例: "dealhub"）
func NewStore(ctx context.Context, uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	s := &Store{client: client, db: client.Database(dbName)}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ensure indexes failed: %w", err)
	}

	slog.Info("MongoDBに接続しました", slog.String("database", dbName))
	return s, nil
}

// Close はMongoDB接続を閉じる。
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping は接続を確認する。ヘルスチェックで使用する。
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Users はUserRepository実装を返す。
func (s *Store) Users() *UserRepo {
	return &UserRepo{col: s.col(ColUsers)}
}

// Codes はOneTimeCodeRepository実装を返す。
func (s *Store) Codes() *CodeRepo {
	return &CodeRepo{col: s.col(ColOneTimeCodes)}
}

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// ensureIndexes は必要なインデックスを作成する。既存の場合は何もしない。
func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}

	indexes := []idx{
		// users
		{ColUsers, bson.D{{Key: "email_key", Value: 1}}, true},

		// one_time_codes
		{ColOneTimeCodes, bson.D{{Key: "user_id", Value: 1}, {Key: "purpose", Value: 1}}, true},
		{ColOneTimeCodes, bson.D{{Key: "code_id", Value: 1}}, true},
		{ColOneTimeCodes, bson.D{{Key: "expires_at", Value: 1}}, false},
	}

	for _, i := range indexes {
		m := mongo.IndexModel{Keys: i.keys}
		if i.unique {
			m.Options = options.Index().SetUnique(true)
		}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, m); err != nil {
			return fmt.Errorf("create index on %s: %w", i.col, err)
		}
	}

	return nil
}
